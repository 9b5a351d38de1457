package model

import "splinterd.io/server/splinterid"

func circuitIdOf(s string) splinterid.CircuitId { return splinterid.CircuitId(s) }
func nodeIdOf(s string) splinterid.NodeId       { return splinterid.NodeId(s) }
