// Package store implements scabbard.Store over an embedded LMDB
// key/value table (service + context + alarm rows, one per (circuit,
// service)) plus a write-ahead log of consensus events per service.
//
// Grounded on txnengine/varmanager.go's db *db.Databases +
// mdbs.RWTxn/RTxn usage for the keyed rows, and on spec.md §4.5's
// explicit departure from the teacher's single-snapshot-per-key model:
// "list_ready_events / mark_event_executed" names an event log, which
// the teacher's LMDB-only var store doesn't have, so a write-ahead log
// backs just the event half of this store.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"strings"
	"sync"

	mdb "github.com/msackman/gomdb"
	mdbs "github.com/msackman/gomdb/server"
	"github.com/tidwall/wal"

	"splinterd.io/server/model"
	"splinterd.io/server/scabbard"
	"splinterd.io/server/splerr"
	"splinterd.io/server/splinterid"
)

// table names, mirroring the teacher's one-DBISettings-per-concern
// convention (db.DB.Vars, db.BallotOutcomes, ...).
const (
	servicesTable = "scabbard_services"
	contextsTable = "scabbard_contexts"
	alarmsTable   = "scabbard_alarms"
)

// DurableStore is the LMDB+WAL-backed scabbard.Store.
type DurableStore struct {
	server *mdbs.MDBServer

	mu   sync.Mutex
	logs map[string]*wal.Log
	dir  string
}

// NewDurableStore opens (or creates) the LMDB environment at dir,
// registering the three keyed tables this store needs; per-service
// event logs are opened lazily under dir/events/<circuit>-<service>.
func NewDurableStore(dir string, mapSize int) (*DurableStore, error) {
	dbiSettings := map[string]mdb.DBISettings{
		servicesTable: {Flags: mdb.CREATE},
		contextsTable: {Flags: mdb.CREATE},
		alarmsTable:   {Flags: mdb.CREATE},
	}
	srv, err := mdbs.NewMDBServer(dir, 0, 0666, mapSize, 1, nil, dbiSettings)
	if err != nil {
		return nil, splerr.NewResourceTemporarilyUnavailable("open scabbard lmdb environment", err)
	}
	return &DurableStore{server: srv, logs: make(map[string]*wal.Log), dir: dir}, nil
}

func rowKey(circuit splinterid.CircuitId, service splinterid.ServiceId) []byte {
	return []byte(string(circuit) + "/" + string(service))
}

func (s *DurableStore) logFor(circuit splinterid.CircuitId, service splinterid.ServiceId) (*wal.Log, error) {
	name := string(circuit) + "-" + string(service)
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[name]; ok {
		return l, nil
	}
	l, err := wal.Open(s.dir+"/events/"+name, wal.DefaultOptions)
	if err != nil {
		return nil, splerr.NewResourceTemporarilyUnavailable("open scabbard event log for "+name, err)
	}
	s.logs[name] = l
	return l, nil
}

func (s *DurableStore) GetService(circuit splinterid.CircuitId, service splinterid.ServiceId) (*model.ScabbardService, bool, error) {
	var svc *model.ScabbardService
	future := s.server.ReadonlyTransaction(func(rtxn *mdbs.RTxn) interface{} {
		data, err := rtxn.Get(servicesTable, rowKey(circuit, service))
		if err != nil || data == nil {
			return nil
		}
		var decoded model.ScabbardService
		if decErr := gobDecode(data, &decoded); decErr != nil {
			return nil
		}
		svc = &decoded
		return nil
	})
	if _, err := future.ResultError(); err != nil {
		return nil, false, splerr.NewResourceTemporarilyUnavailable("get scabbard service", err)
	}
	return svc, svc != nil, nil
}

// ListServices walks the services table with a cursor, same idiom as
// ListDueAlarms / loadFromDisk.
func (s *DurableStore) ListServices() ([]model.ScabbardService, error) {
	var out []model.ScabbardService
	future := s.server.ReadonlyTransaction(func(rtxn *mdbs.RTxn) interface{} {
		rtxn.WithCursor(servicesTable, func(cursor *mdbs.Cursor) interface{} {
			_, data, err := cursor.Get(nil, nil, mdb.FIRST)
			for ; err == nil; _, data, err = cursor.Get(nil, nil, mdb.NEXT) {
				var svc model.ScabbardService
				if decErr := gobDecode(data, &svc); decErr != nil {
					continue
				}
				out = append(out, svc)
			}
			return nil
		})
		return nil
	})
	if _, err := future.ResultError(); err != nil {
		return nil, splerr.NewResourceTemporarilyUnavailable("list scabbard services", err)
	}
	return out, nil
}

func (s *DurableStore) UpdateService(svc *model.ScabbardService) error {
	data, err := gobEncode(svc)
	if err != nil {
		return splerr.NewInternal("encode scabbard service", err)
	}
	return s.put("update scabbard service", servicesTable, rowKey(svc.CircuitId, svc.ServiceId), data)
}

// put runs one Put inside a read-write transaction, surfacing both the
// transaction-level error (future.ResultError's err, e.g. the server
// shutting down) and the Put call's own error (captured from the
// closure, mirroring txnengine/var.go's inline err checks) as a single
// ResourceTemporarilyUnavailable.
func (s *DurableStore) put(op, table string, key, value []byte) error {
	var putErr error
	future := s.server.ReadWriteTransaction(func(rwtxn *mdbs.RWTxn) interface{} {
		putErr = rwtxn.Put(table, key, value, 0)
		return nil
	})
	if _, err := future.ResultError(); err != nil {
		return splerr.NewResourceTemporarilyUnavailable(op, err)
	}
	if putErr != nil {
		return splerr.NewResourceTemporarilyUnavailable(op, putErr)
	}
	return nil
}

func (s *DurableStore) AddConsensusContext(circuit splinterid.CircuitId, service splinterid.ServiceId, ctx *model.ConsensusContext) error {
	return s.putContext(circuit, service, ctx)
}

func (s *DurableStore) UpdateConsensusContext(circuit splinterid.CircuitId, service splinterid.ServiceId, ctx *model.ConsensusContext) error {
	return s.putContext(circuit, service, ctx)
}

func (s *DurableStore) putContext(circuit splinterid.CircuitId, service splinterid.ServiceId, ctx *model.ConsensusContext) error {
	data, err := gobEncode(ctx)
	if err != nil {
		return splerr.NewInternal("encode consensus context", err)
	}
	return s.put("write consensus context", contextsTable, rowKey(circuit, service), data)
}

func (s *DurableStore) GetConsensusContext(circuit splinterid.CircuitId, service splinterid.ServiceId) (*model.ConsensusContext, bool, error) {
	var ctx *model.ConsensusContext
	future := s.server.ReadonlyTransaction(func(rtxn *mdbs.RTxn) interface{} {
		data, err := rtxn.Get(contextsTable, rowKey(circuit, service))
		if err != nil || data == nil {
			return nil
		}
		var decoded model.ConsensusContext
		if decErr := gobDecode(data, &decoded); decErr != nil {
			return nil
		}
		ctx = &decoded
		return nil
	})
	if _, err := future.ResultError(); err != nil {
		return nil, false, splerr.NewResourceTemporarilyUnavailable("get consensus context", err)
	}
	return ctx, ctx != nil, nil
}

// AddConsensusEvent appends to the service's WAL. The WAL index space
// is 1-based and monotonic per log (tidwall/wal convention); the
// ConsensusEvent's own Index mirrors that so ListReadyEvents/
// MarkEventExecuted can address entries the same way the coordinator/
// participant logic already does.
func (s *DurableStore) AddConsensusEvent(circuit splinterid.CircuitId, service splinterid.ServiceId, ev model.ConsensusEvent) error {
	l, err := s.logFor(circuit, service)
	if err != nil {
		return err
	}
	last, err := l.LastIndex()
	if err != nil {
		return splerr.NewResourceTemporarilyUnavailable("read last event index", err)
	}
	ev.Index = last + 1
	data, err := gobEncode(&ev)
	if err != nil {
		return splerr.NewInternal("encode consensus event", err)
	}
	if err := l.Write(ev.Index, data); err != nil {
		return splerr.NewResourceTemporarilyUnavailable("append consensus event", err)
	}
	return nil
}

func (s *DurableStore) ListReadyEvents(circuit splinterid.CircuitId, service splinterid.ServiceId) ([]model.ConsensusEvent, error) {
	l, err := s.logFor(circuit, service)
	if err != nil {
		return nil, err
	}
	first, err := l.FirstIndex()
	if err != nil {
		return nil, splerr.NewResourceTemporarilyUnavailable("read first event index", err)
	}
	last, err := l.LastIndex()
	if err != nil {
		return nil, splerr.NewResourceTemporarilyUnavailable("read last event index", err)
	}
	if first == 0 || last == 0 || first > last {
		return nil, nil
	}
	events := make([]model.ConsensusEvent, 0, last-first+1)
	for idx := first; idx <= last; idx++ {
		data, err := l.Read(idx)
		if err != nil {
			return nil, splerr.NewResourceTemporarilyUnavailable(fmt.Sprintf("read event %d", idx), err)
		}
		var ev model.ConsensusEvent
		if err := gobDecode(data, &ev); err != nil {
			return nil, splerr.NewInternal("decode consensus event", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// MarkEventExecuted truncates every entry up to and including index
// from the front of the log: events are applied strictly in order, so
// once index is executed everything before it is too.
func (s *DurableStore) MarkEventExecuted(circuit splinterid.CircuitId, service splinterid.ServiceId, index uint64) error {
	l, err := s.logFor(circuit, service)
	if err != nil {
		return err
	}
	if err := l.TruncateFront(index + 1); err != nil {
		return splerr.NewResourceTemporarilyUnavailable("truncate executed events", err)
	}
	return nil
}

func (s *DurableStore) GetAlarm(circuit splinterid.CircuitId, service splinterid.ServiceId) (int64, bool, error) {
	var at int64
	var found bool
	future := s.server.ReadonlyTransaction(func(rtxn *mdbs.RTxn) interface{} {
		data, err := rtxn.Get(alarmsTable, rowKey(circuit, service))
		if err != nil || data == nil || len(data) != 8 {
			return nil
		}
		at = int64(binary.BigEndian.Uint64(data))
		found = true
		return nil
	})
	if _, err := future.ResultError(); err != nil {
		return 0, false, splerr.NewResourceTemporarilyUnavailable("get alarm", err)
	}
	return at, found, nil
}

func (s *DurableStore) SetAlarm(circuit splinterid.CircuitId, service splinterid.ServiceId, at int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(at))
	return s.put("set alarm", alarmsTable, rowKey(circuit, service), buf[:])
}

func (s *DurableStore) UnsetAlarm(circuit splinterid.CircuitId, service splinterid.ServiceId) error {
	future := s.server.ReadWriteTransaction(func(rwtxn *mdbs.RWTxn) interface{} {
		rwtxn.Del(alarmsTable, rowKey(circuit, service), nil)
		return nil
	})
	if _, err := future.ResultError(); err != nil {
		return splerr.NewResourceTemporarilyUnavailable("unset alarm", err)
	}
	return nil
}

// ListDueAlarms walks the alarms table with a cursor (the same
// FIRST/NEXT idiom as paxos/acceptordispatcher.go.loadFromDisk) rather
// than keeping a separate due-index, since the alarms table is small
// (one row per live service).
func (s *DurableStore) ListDueAlarms(now int64) ([]scabbard.DueAlarm, error) {
	var due []scabbard.DueAlarm
	future := s.server.ReadonlyTransaction(func(rtxn *mdbs.RTxn) interface{} {
		rtxn.WithCursor(alarmsTable, func(cursor *mdbs.Cursor) interface{} {
			k, data, err := cursor.Get(nil, nil, mdb.FIRST)
			for ; err == nil; k, data, err = cursor.Get(nil, nil, mdb.NEXT) {
				if len(data) != 8 {
					continue
				}
				at := int64(binary.BigEndian.Uint64(data))
				if at == 0 || at > now {
					continue
				}
				circuit, service, ok := splitRowKey(k)
				if !ok {
					continue
				}
				due = append(due, scabbard.DueAlarm{Circuit: circuit, Service: service})
			}
			return nil
		})
		return nil
	})
	if _, err := future.ResultError(); err != nil {
		return nil, splerr.NewResourceTemporarilyUnavailable("list due alarms", err)
	}
	return due, nil
}

// splitRowKey reverses rowKey: circuit ids never contain "/" (their
// grammar is alphanumeric plus a single "-"), so the first "/" is
// always the circuit/service boundary.
func splitRowKey(data []byte) (splinterid.CircuitId, splinterid.ServiceId, bool) {
	s := string(data)
	idx := strings.IndexByte(s, '/')
	if idx < 0 {
		return "", "", false
	}
	return splinterid.CircuitId(s[:idx]), splinterid.ServiceId(s[idx+1:]), true
}

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
