// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mapstore

import (
	"context"

	"github.com/bureau-foundation/mapstore/lib/catalog"
)

// ReconcileReport lists what a reconciliation released.
type ReconcileReport struct {
	Released      []string `json:"released"`
	ReleasedBytes int64    `json:"released_bytes"`
}

// Reconcile releases entries whose space was reserved but whose bytes
// were never finalized, typically because the process died mid-store.
// Stores still running on this handle are left alone; the root lock
// rules out any other writer. Open reconciles
// automatically.
func (s *Store) Reconcile(ctx context.Context) (ReconcileReport, error) {
	current, err := s.acquire()
	if err != nil {
		return ReconcileReport{}, err
	}
	defer s.mu.RUnlock()
	return current.reconcile(ctx)
}

func (g *generation) reconcile(ctx context.Context) (ReconcileReport, error) {
	g.allocationMu.Lock()
	defer g.allocationMu.Unlock()

	var report ReconcileReport
	err := g.catalog.Update(ctx, func(tx catalog.Tx) error {
		pending, err := tx.PendingBlobs()
		if err != nil {
			return err
		}
		for _, entry := range pending {
			if _, busy := g.inFlight[entry.Hash]; busy {
				continue
			}
			if err := g.reclaimEntry(tx, entry); err != nil {
				return err
			}
			report.Released = append(report.Released, entry.Hash)
			report.ReleasedBytes += entry.Size
		}
		return nil
	})
	if err != nil {
		return ReconcileReport{}, classify("reconcile", ErrCatalog, err)
	}

	for _, hash := range report.Released {
		g.logger.Warn("released unfinished blob", "hash", hash)
	}
	if len(report.Released) > 0 {
		g.logger.Info("reconciled",
			"released", len(report.Released),
			"released_bytes", report.ReleasedBytes,
		)
	}
	return report, nil
}
