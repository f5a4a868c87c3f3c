package rpcserver

import (
	"sync"

	daq "github.com/easternanemone/rust-daq-sub004"
	"github.com/easternanemone/rust-daq-sub004/internal/broadcast"
	"github.com/easternanemone/rust-daq-sub004/internal/logging"
)

// converter subscribes once to the engine's domain-document broadcaster
// and converts each Document to its wire form exactly once, then
// re-broadcasts the already-converted value to every StreamDocuments
// client. This keeps the conversion cost O(M) total rather than O(N*M)
// for N subscribed clients.
type converter struct {
	log     *logging.Logger
	metrics *metrics

	mu            sync.Mutex
	descriptorRun map[string]string // descriptor uid -> run uid

	out *broadcast.Broadcaster[*WireDocument]
}

func newConverter(log *logging.Logger, m *metrics) *converter {
	if log == nil {
		log = logging.Default()
	}
	return &converter{
		log:           log,
		metrics:       m,
		descriptorRun: make(map[string]string),
		out:           broadcast.New[*WireDocument](),
	}
}

// run drains in, converting and re-broadcasting until in is closed. It is
// meant to run in its own goroutine for the lifetime of the server.
func (c *converter) run(in *broadcast.Receiver[daq.Document]) {
	for doc := range in.Chan() {
		wire := c.convert(doc)
		if wire != nil {
			if c.metrics != nil {
				c.metrics.convertedDocs.Inc()
			}
			c.out.Broadcast(wire)
		}
	}
}

func (c *converter) convert(doc daq.Document) *WireDocument {
	switch d := doc.(type) {
	case *daq.Start:
		return &WireDocument{
			Type:   "start",
			RunUID: d.UID,
			Start: &WireStart{
				UID: d.UID, TimeNs: d.TimeNs, PlanType: d.PlanType, PlanName: d.PlanName,
				PlanArgs: d.PlanArgs, Metadata: d.Metadata, Hints: d.Hints,
			},
		}
	case *daq.Descriptor:
		c.mu.Lock()
		c.descriptorRun[d.UID] = d.RunUID
		c.mu.Unlock()
		keys := make(map[string]WireDataKey, len(d.DataKeys))
		for name, k := range d.DataKeys {
			keys[name] = WireDataKey{Dtype: k.Dtype, Shape: k.Shape, Source: k.Source, Units: k.Units, Precision: k.Precision}
		}
		return &WireDocument{
			Type:   "descriptor",
			RunUID: d.RunUID,
			Descriptor: &WireDescriptor{
				UID: d.UID, TimeNs: d.TimeNs, StreamName: d.StreamName, DataKeys: keys,
			},
		}
	case *daq.Event:
		c.mu.Lock()
		runUID := c.descriptorRun[d.DescriptorUID]
		c.mu.Unlock()
		return &WireDocument{
			Type:   "event",
			RunUID: runUID,
			Event: &WireEvent{
				UID: d.UID, DescriptorUID: d.DescriptorUID, SeqNum: d.SeqNum, TimeNs: d.TimeNs,
				Data: d.Data, Arrays: d.Arrays, Positions: d.Positions, Timestamps: d.Timestamps, Metadata: d.Metadata,
			},
		}
	case *daq.Stop:
		c.mu.Lock()
		for uid, run := range c.descriptorRun {
			if run == d.RunUID {
				delete(c.descriptorRun, uid)
			}
		}
		c.mu.Unlock()
		return &WireDocument{
			Type:   "stop",
			RunUID: d.RunUID,
			Stop: &WireStop{
				UID: d.UID, TimeNs: d.TimeNs, ExitStatus: string(d.ExitStatus), Reason: d.Reason, NumEvents: d.NumEvents,
			},
		}
	case *daq.Manifest:
		return &WireDocument{
			Type:   "manifest",
			RunUID: d.RunUID,
			Manifest: &WireManifest{
				TimeNs: d.TimeNs, PlanType: d.PlanType, PlanName: d.PlanName,
				ParameterSnapshot: d.ParameterSnapshot, SystemInfo: d.SystemInfo,
			},
		}
	default:
		c.log.Warn("dropping document of unknown type", "doc_type", doc.DocType())
		return nil
	}
}

// subscribe returns a receiver of every converted document; callers apply
// their own run_uid/doc_type filtering when forwarding to a gRPC stream.
func (c *converter) subscribe(name string) *broadcast.Receiver[*WireDocument] {
	return c.out.Subscribe(name, docStreamCapacity)
}

const docStreamCapacity = 256

func matchesFilter(w *WireDocument, req *StreamDocumentsRequest) bool {
	if req.RunUID != "" && w.RunUID != req.RunUID {
		return false
	}
	if req.DocType != "" && w.Type != req.DocType {
		return false
	}
	return true
}
