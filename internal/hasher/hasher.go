// Package hasher computes content digests and the per-session event hash chain.
//
// The chained digest of an event is SHA-256 over a canonical JSON encoding of
// {type, timestamp, position, content, previousHash} in exactly that key order.
// Two conforming implementations must produce byte-identical encodings for the
// same logical event, so the encoding is produced from a fixed-order struct
// with HTML escaping disabled and U+2028/U+2029 written unescaped.
package hasher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"provenance/internal/provenance"
)

// Digest returns the lowercase hex SHA-256 of the UTF-8 bytes of data.
func Digest(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// canonicalEvent fixes the key order of the chained encoding.
type canonicalEvent struct {
	Type         provenance.EventType `json:"type"`
	Timestamp    int64                `json:"timestamp"`
	Position     *int                 `json:"position"`
	Content      *string              `json:"content"`
	PreviousHash string               `json:"previousHash"`
}

// CanonicalEncoding returns the exact string that ChainedEventDigest hashes.
func CanonicalEncoding(e provenance.Event, previousHash string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a struct of strings, ints and pointers to them cannot fail.
	_ = enc.Encode(canonicalEvent{
		Type:         e.Type,
		Timestamp:    e.Timestamp,
		Position:     e.Position,
		Content:      e.Content,
		PreviousHash: previousHash,
	})
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

// unescapeLineSeparators writes U+2028 and U+2029 raw in place of the \u
// escapes encoding/json emits for them. Escapes are consumed in pairs so an
// escaped backslash followed by "u2028" is left alone.
func unescapeLineSeparators(b []byte) string {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return string(b)
	}
	var out strings.Builder
	out.Grow(len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out.WriteByte(b[i])
			continue
		}
		if rest := b[i+1:]; len(rest) >= 5 && string(rest[:4]) == "u202" && (rest[4] == '8' || rest[4] == '9') {
			out.WriteRune(rune(0x2028) + rune(rest[4]-'8'))
			i += 5
			continue
		}
		out.WriteByte(b[i])
		out.WriteByte(b[i+1])
		i++
	}
	return out.String()
}

// ChainedEventDigest returns the digest binding e to previousHash. The
// event's own Hash field is ignored.
func ChainedEventDigest(e provenance.Event, previousHash string) string {
	return Digest(CanonicalEncoding(e, previousHash))
}

// Seal computes and stores e's hash against previousHash and returns it.
func Seal(e *provenance.Event, previousHash string) string {
	e.Hash = ChainedEventDigest(*e, previousHash)
	return e.Hash
}

// ChainResult is the outcome of verifying one event chain.
type ChainResult struct {
	Valid bool `json:"valid"`
	// BrokenAtIndex is the first index whose stored hash does not match.
	BrokenAtIndex *int `json:"brokenAtIndex"`
	// LastHash is the last verified hash, or the starting hash if none were.
	LastHash string `json:"lastHash"`
}

// VerifyChain recomputes each event's digest in order and stops at the
// first mismatch. It never modifies events.
func VerifyChain(events []provenance.Event, startingHash string) ChainResult {
	prev := startingHash
	for i, e := range events {
		if ChainedEventDigest(e, prev) != e.Hash {
			idx := i
			return ChainResult{Valid: false, BrokenAtIndex: &idx, LastHash: prev}
		}
		prev = e.Hash
	}
	return ChainResult{Valid: true, LastHash: prev}
}

// SessionResult is the chain verification of one session.
type SessionResult struct {
	SessionID string `json:"sessionId"`
	ChainResult
}

// DocumentResult aggregates per-session chain verification.
type DocumentResult struct {
	Valid    bool            `json:"valid"`
	Sessions []SessionResult `json:"sessions"`
}

// Broken returns the sessions whose chain failed verification.
func (r DocumentResult) Broken() []SessionResult {
	var out []SessionResult
	for _, s := range r.Sessions {
		if !s.Valid {
			out = append(out, s)
		}
	}
	return out
}

// VerifyDocument verifies every session independently, each from "".
func VerifyDocument(doc *provenance.Document) DocumentResult {
	res := DocumentResult{Valid: true, Sessions: make([]SessionResult, 0)}
	if doc == nil {
		return res
	}
	for _, s := range doc.Sessions {
		cr := VerifyChain(s.Events, "")
		res.Sessions = append(res.Sessions, SessionResult{SessionID: s.ID, ChainResult: cr})
		res.Valid = res.Valid && cr.Valid
	}
	return res
}
