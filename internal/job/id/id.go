// Package id generates and checks job identifiers.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

var pattern = regexp.MustCompile(`^job-\d+-[0-9a-f]{8}$`)

// Generate creates a new job ID of the form job-<unix seconds>-<8 hex digits>,
// for example job-1701432000-a1b2c3d4.
func Generate() string {
	random := make([]byte, 4)
	_, _ = rand.Read(random) // never returns an error since Go 1.24
	return fmt.Sprintf("job-%d-%s", time.Now().Unix(), hex.EncodeToString(random))
}

// Valid reports whether s has the shape of a generated ID.
func Valid(s string) bool {
	return pattern.MatchString(s)
}
