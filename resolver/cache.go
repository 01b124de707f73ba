// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package resolver

import "sync"

// Caches hold memoized resolution results for the lifetime of one run.
// A stored nil metadata value means the lookup was performed and the
// sidecar is known to be absent, which is distinct from never having
// looked.
type Caches struct {
	mu sync.Mutex

	nightly map[string]map[string]any
	rc      map[string]map[string]any
	release map[string]map[string]any

	// candidates maps product to version to the newest build folder,
	// e.g. "firefox" -> "54.0" -> "build11/".
	candidates map[string]map[string]string
}

// NewCaches creates empty resolution caches.
func NewCaches() *Caches {
	return &Caches{
		nightly:    make(map[string]map[string]any),
		rc:         make(map[string]map[string]any),
		release:    make(map[string]map[string]any),
		candidates: make(map[string]map[string]string),
	}
}

// Nightly returns cached nightly metadata and whether the key was ever
// resolved.
func (caches *Caches) Nightly(key string) (map[string]any, bool) {
	caches.mu.Lock()
	defer caches.mu.Unlock()
	metadata, ok := caches.nightly[key]
	return metadata, ok
}

// SetNightly stores nightly metadata, nil meaning known absent.
func (caches *Caches) SetNightly(key string, metadata map[string]any) {
	caches.mu.Lock()
	defer caches.mu.Unlock()
	caches.nightly[key] = metadata
}

// RC returns cached release candidate metadata.
func (caches *Caches) RC(key string) (map[string]any, bool) {
	caches.mu.Lock()
	defer caches.mu.Unlock()
	metadata, ok := caches.rc[key]
	return metadata, ok
}

// SetRC stores release candidate metadata.
func (caches *Caches) SetRC(key string, metadata map[string]any) {
	caches.mu.Lock()
	defer caches.mu.Unlock()
	caches.rc[key] = metadata
}

// Release returns cached release metadata, nil meaning known absent.
func (caches *Caches) Release(key string) (map[string]any, bool) {
	caches.mu.Lock()
	defer caches.mu.Unlock()
	metadata, ok := caches.release[key]
	return metadata, ok
}

// SetRelease stores release metadata, nil meaning known absent.
func (caches *Caches) SetRelease(key string, metadata map[string]any) {
	caches.mu.Lock()
	defer caches.mu.Unlock()
	caches.release[key] = metadata
}

// CandidatesScanned reports whether the candidates tree of a product
// was already walked.
func (caches *Caches) CandidatesScanned(product string) bool {
	caches.mu.Lock()
	defer caches.mu.Unlock()
	_, ok := caches.candidates[product]
	return ok
}

// SetCandidates stores the version to build folder mapping of a
// product. An empty map marks the product as scanned.
func (caches *Caches) SetCandidates(product string, folders map[string]string) {
	caches.mu.Lock()
	defer caches.mu.Unlock()
	caches.candidates[product] = folders
}

// CandidateFolder returns the newest build folder of a product version.
func (caches *Caches) CandidateFolder(product, version string) (string, bool) {
	caches.mu.Lock()
	defer caches.mu.Unlock()
	folder, ok := caches.candidates[product][version]
	return folder, ok
}
