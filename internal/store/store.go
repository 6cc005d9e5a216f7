// Package store persists fitted calibrations so a returning user on the same
// device can skip recalibration.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"gaze-tracer/internal/calibration"
	"gaze-tracer/internal/fitting"
	"gaze-tracer/pkg/geometry"
)

// RecordVersion is bumped when the serialized layout changes.
const RecordVersion = 1

// ErrNotFound is returned by Load when no calibration exists for the key.
var ErrNotFound = errors.New("calibration not found")

// Key identifies a stored calibration.
type Key struct {
	UserID      string
	Fingerprint string
}

func (k Key) String() string {
	return k.UserID + ":" + k.Fingerprint
}

// Record is a persisted calibration.
type Record struct {
	Version           int                          `json:"version"`
	Affine            geometry.AffineTransform     `json:"affine"`
	Quad              *geometry.QuadraticTransform `json:"quad,omitempty"`
	RBF               *fitting.RBFModel            `json:"rbf,omitempty"`
	DeviceFingerprint string                       `json:"deviceFingerprint"`
	AccuracyEstimate  float64                      `json:"accuracyEstimate"`
	Viewport          geometry.Viewport            `json:"viewport"`
	UserID            string                       `json:"userId"`
	CreatedAt         time.Time                    `json:"createdAt"`
}

// NewRecord snapshots a chain for persistence.
func NewRecord(key Key, c *calibration.Chain, accuracy float64, now time.Time) *Record {
	r := &Record{
		Version:           RecordVersion,
		Affine:            geometry.Identity(),
		DeviceFingerprint: key.Fingerprint,
		AccuracyEstimate:  accuracy,
		UserID:            key.UserID,
		CreatedAt:         now.UTC(),
	}
	if c != nil {
		if c.Affine != nil {
			r.Affine = *c.Affine
		}
		r.Quad = c.Quad
		r.RBF = c.RBF
		r.Viewport = c.Viewport
	}
	return r
}

// Chain rebuilds the calibration chain.
func (r *Record) Chain() *calibration.Chain {
	affine := r.Affine
	return &calibration.Chain{Affine: &affine, Quad: r.Quad, RBF: r.RBF, Viewport: r.Viewport}
}

// Store loads and saves calibration records.
type Store interface {
	Load(ctx context.Context, key Key) (*Record, error)
	Save(ctx context.Context, key Key, r *Record) error
}

// UserLoader is implemented by stores that can find a user's most recent
// record regardless of device. It lets a returning user on a new device be
// told their stored calibration belongs elsewhere.
type UserLoader interface {
	LoadLatest(ctx context.Context, userID string) (*Record, error)
}

// Fingerprint hashes the user, device, camera and screen descriptors into a
// stable identifier. Parts are trimmed and lower-cased first.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func validKey(k Key) error {
	if k.UserID == "" || k.Fingerprint == "" {
		return fmt.Errorf("invalid calibration key %q", k.String())
	}
	return nil
}
