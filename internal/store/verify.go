package store

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"provenance/internal/format"
)

// VerifyDocument re-reads the document stored under id, validates it and
// records the outcome in the verification history.
func (s *Store) VerifyDocument(ctx context.Context, id string) (*Verification, error) {
	doc, err := s.LoadDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	result := format.Validate(doc)
	v := &Verification{
		DocumentID: id,
		VerifiedAt: fromMillis(toMillis(s.clock())),
		Valid:      result.Valid,
		Errors:     len(result.Errors),
		Warnings:   len(result.Warnings),
		Result:     result,
	}

	report, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode verification report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verifications (document_id, verified_at, valid, errors, warnings, report)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, toMillis(v.VerifiedAt), v.Valid, v.Errors, v.Warnings, string(report),
	)
	if err != nil {
		return nil, fmt.Errorf("record verification: %w", err)
	}

	s.metrics.ObserveValidation(v.Valid)
	if v.Valid {
		s.logger.Info("document verified", "document_id", id, "warnings", v.Warnings)
	} else {
		s.logger.Warn("document failed verification",
			"document_id", id,
			"errors", v.Errors,
			"warnings", v.Warnings,
		)
	}
	return v, nil
}

// VerifyAll verifies every archived document using at most concurrency
// workers. Results follow ListDocuments order. The first storage error
// cancels the remaining work; invalid documents are not errors.
func (s *Store) VerifyAll(ctx context.Context, concurrency int) ([]Verification, error) {
	infos, err := s.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]Verification, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, info := range infos {
		g.Go(func() error {
			v, err := s.VerifyDocument(gctx, info.ID)
			if err != nil {
				return fmt.Errorf("verify %s: %w", info.ID, err)
			}
			results[i] = *v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// History returns the recorded verifications of a document, oldest first.
func (s *Store) History(ctx context.Context, id string) ([]Verification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT verified_at, valid, errors, warnings, report
		FROM verifications WHERE document_id = ? ORDER BY verified_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer rows.Close()

	history := make([]Verification, 0)
	for rows.Next() {
		var (
			v          Verification
			verifiedAt int64
			report     string
		)
		if err := rows.Scan(&verifiedAt, &v.Valid, &v.Errors, &v.Warnings, &report); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		if err := json.Unmarshal([]byte(report), &v.Result); err != nil {
			return nil, fmt.Errorf("decode verification report: %w", err)
		}
		v.DocumentID = id
		v.VerifiedAt = fromMillis(verifiedAt)
		history = append(history, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return history, nil
}
