package model

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
)

// wireCircuit is the on-the-wire shape of Circuit. Status is omitted
// (zero value) when CircuitVersion == 1, matching spec.md §4.4's
// "outbound encoding omits status when circuit_version == 1" rule; on
// decode, a zero CircuitVersion defaults to 1 and a zero Status
// defaults to Active (spec.md §8 property: decode(encode(C)) == C
// under those defaults).
type wireCircuit struct {
	CircuitId           string
	Roster              []SplinterService
	Members             []string
	AuthorizationType   AuthorizationType
	Persistence         PersistenceType
	Durability          DurabilityType
	Routes              RouteType
	ManagementType      string
	ApplicationMetadata []byte
	Comments            string
	DisplayName         string
	CircuitVersion      uint32
	Status              CircuitStatus
	StatusPresent       bool
}

// Encode serializes c to the canonical wire form described above.
func Encode(c *Circuit) ([]byte, error) {
	w := wireCircuit{
		CircuitId:           string(c.CircuitId),
		Roster:              c.Roster,
		AuthorizationType:   c.AuthorizationType,
		Persistence:         c.Persistence,
		Durability:          c.Durability,
		Routes:              c.Routes,
		ManagementType:      c.ManagementType,
		ApplicationMetadata: c.ApplicationMetadata,
		Comments:            c.Comments,
		DisplayName:         c.DisplayName,
		CircuitVersion:      c.CircuitVersion,
	}
	for _, m := range c.Members {
		w.Members = append(w.Members, string(m))
	}
	if c.CircuitVersion != 1 {
		w.StatusPresent = true
		w.Status = c.Status
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&w); err != nil {
		return nil, fmt.Errorf("model: encode circuit %s: %w", c.CircuitId, err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes bytes produced by Encode, applying the
// UNSET_CIRCUIT_STATUS -> Active and circuit_version 0 -> 1 defaults.
func Decode(data []byte) (*Circuit, error) {
	var w wireCircuit
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, fmt.Errorf("model: decode circuit: %w", err)
	}

	c := &Circuit{
		CircuitId:           circuitIdOf(w.CircuitId),
		Roster:              w.Roster,
		AuthorizationType:   w.AuthorizationType,
		Persistence:         w.Persistence,
		Durability:          w.Durability,
		Routes:              w.Routes,
		ManagementType:      w.ManagementType,
		ApplicationMetadata: w.ApplicationMetadata,
		Comments:            w.Comments,
		DisplayName:         w.DisplayName,
		CircuitVersion:      w.CircuitVersion,
	}
	for _, m := range w.Members {
		c.Members = append(c.Members, nodeIdOf(m))
	}
	if c.CircuitVersion == 0 {
		c.CircuitVersion = 1
	}
	if w.StatusPresent {
		c.Status = w.Status
	} else {
		c.Status = CircuitStatusActive
	}
	if c.Status == CircuitStatusUnset {
		c.Status = CircuitStatusActive
	}
	return c, nil
}

// PutUint32BE/GetUint32BE are small helpers kept here (rather than
// reaching for an extra import at each call site) for the few places
// outside gob encoding that need a raw big-endian length prefix —
// mirrors the teacher's inlined encoding/binary usage in
// network/protocols.go.
func PutUint32BE(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
func GetUint32BE(buf []byte) uint32    { return binary.BigEndian.Uint32(buf) }
