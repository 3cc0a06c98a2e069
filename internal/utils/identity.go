package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NamePrefix marks a peer name as belonging to the oscillator protocol.
const NamePrefix = "o_"

// NewPeerName returns o_<unix-millis>_<8 hex digits>.
func NewPeerName() string {
	return fmt.Sprintf("%s%d_%s", NamePrefix, time.Now().UnixMilli(), uuid.New().String()[:8])
}

// IsNameValid reports whether name carries the protocol prefix.
func IsNameValid(name string) bool {
	return strings.HasPrefix(name, NamePrefix)
}
