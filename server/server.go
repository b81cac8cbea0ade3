// Package server exposes the BFD configuration layer over gNMI. A Set
// request is one configuration transaction: the running tree is cloned
// into a candidate, the request's deletes and updates are applied to the
// candidate and translated into typed change events, and the whole set is
// committed through the northbound phase machine. A rejected transaction
// leaves the running configuration and the engine untouched.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/openconfig/gnmi/proto/gnmi"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/c-po/frr/bfd"
	"github.com/c-po/frr/northbound"
)

// Server implements gnmi.GNMIServer on top of the northbound reconciler.
type Server struct {
	gnmi.UnimplementedGNMIServer

	bs *bfd.Server
	nb *northbound.Northbound

	// m serializes transactions; the engine and reconciler themselves are
	// single-threaded by contract.
	m       sync.Mutex
	running *northbound.Node

	metrics *metrics
}

func New(bs *bfd.Server) *Server {
	return &Server{
		bs:      bs,
		nb:      northbound.New(bs),
		running: northbound.NewTree(),
		metrics: newMetrics(bs),
	}
}

// Registry returns the Prometheus registry holding this server's metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.metrics.registry
}

func (s *Server) Capabilities(ctx context.Context, req *gnmi.CapabilityRequest) (*gnmi.CapabilityResponse, error) {
	return &gnmi.CapabilityResponse{
		SupportedModels: []*gnmi.ModelData{
			{Name: "frr-bfdd", Organization: "FRRouting", Version: "1.0.0"},
		},
		SupportedEncodings: []gnmi.Encoding{gnmi.Encoding_ASCII},
		GNMIVersion:        "0.8.0",
	}, nil
}

// Get renders the requested subtrees of the running configuration as one
// leaf update per value.
func (s *Server) Get(ctx context.Context, req *gnmi.GetRequest) (*gnmi.GetResponse, error) {
	s.m.Lock()
	defer s.m.Unlock()

	paths := req.GetPath()
	if len(paths) == 0 {
		paths = []*gnmi.Path{{}}
	}
	now := time.Now().UnixNano()
	notifs := make([]*gnmi.Notification, 0, len(paths))
	for _, p := range paths {
		node := s.running.Find(pathElems(req.GetPrefix(), p))
		if node == nil {
			return nil, status.Errorf(codes.NotFound, "path %s not found", p)
		}
		notif := &gnmi.Notification{Timestamp: now}
		node.Walk(func(n *northbound.Node) {
			if !n.IsLeaf() || n.Value == "" {
				return
			}
			notif.Update = append(notif.Update, &gnmi.Update{
				Path: gnmiPath(n),
				Val:  &gnmi.TypedValue{Value: &gnmi.TypedValue_StringVal{StringVal: n.Value}},
			})
		})
		notifs = append(notifs, notif)
	}
	return &gnmi.GetResponse{Notification: notifs}, nil
}

// Set runs one configuration transaction.
func (s *Server) Set(ctx context.Context, req *gnmi.SetRequest) (*gnmi.SetResponse, error) {
	s.m.Lock()
	defer s.m.Unlock()

	candidate := s.running.Clone()
	txn := s.nb.NewTransaction()
	results := make([]*gnmi.UpdateResult, 0, len(req.GetDelete())+len(req.GetReplace())+len(req.GetUpdate()))

	for _, p := range req.GetDelete() {
		node := candidate.Find(pathElems(req.GetPrefix(), p))
		if node == nil {
			// Deleting what is absent is a no-op.
			continue
		}
		s.stageDestroy(txn, node)
		node.Detach()
		results = append(results, &gnmi.UpdateResult{Op: gnmi.UpdateResult_DELETE, Path: p})
	}

	stageUpdate := func(upd *gnmi.Update, op gnmi.UpdateResult_Operation) error {
		node, created := candidate.Ensure(pathElems(req.GetPrefix(), upd.GetPath()))
		for _, cn := range created {
			if s.nb.HasCallbacks(cn.SchemaPath()) {
				txn.Add(northbound.OpCreate, cn)
			}
		}
		if val := upd.GetVal(); val != nil {
			v, err := typedValueString(val)
			if err != nil {
				return err
			}
			node.Value = v
			txn.Add(northbound.OpModify, node)
		}
		results = append(results, &gnmi.UpdateResult{Op: op, Path: upd.GetPath()})
		return nil
	}
	for _, upd := range req.GetReplace() {
		if err := stageUpdate(upd, gnmi.UpdateResult_REPLACE); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "%v", err)
		}
	}
	for _, upd := range req.GetUpdate() {
		if err := stageUpdate(upd, gnmi.UpdateResult_UPDATE); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "%v", err)
		}
	}

	if err := txn.Commit(); err != nil {
		s.metrics.transactionsTotal.WithLabelValues("aborted").Inc()
		slog.Warn("server: configuration rejected", "err", err)
		return nil, status.Errorf(errCode(err), "configuration rejected: %v", err)
	}
	s.running = candidate
	s.metrics.transactionsTotal.WithLabelValues("committed").Inc()
	slog.Info("server: configuration committed", "changes", txn.Len())

	return &gnmi.SetResponse{
		Prefix:    req.GetPrefix(),
		Response:  results,
		Timestamp: time.Now().UnixNano(),
	}, nil
}

// stageDestroy enqueues destroy events for the subtree, deepest nodes
// first, so leaf teardown runs before the entries they belong to.
func (s *Server) stageDestroy(txn *northbound.Transaction, node *northbound.Node) {
	node.WalkBottomUp(func(n *northbound.Node) {
		txn.Add(northbound.OpDestroy, n)
	})
}

func errCode(err error) codes.Code {
	switch {
	case errors.Is(err, northbound.ErrResource):
		return codes.ResourceExhausted
	case errors.Is(err, northbound.ErrInconsistency):
		return codes.FailedPrecondition
	default:
		return codes.InvalidArgument
	}
}

// pathElems flattens prefix+path into tree elements.
func pathElems(prefix, p *gnmi.Path) []northbound.Elem {
	elems := make([]northbound.Elem, 0, len(prefix.GetElem())+len(p.GetElem()))
	for _, pe := range append(prefix.GetElem(), p.GetElem()...) {
		elems = append(elems, northbound.Elem{Name: pe.GetName(), Keys: pe.GetKey()})
	}
	return elems
}

func gnmiPath(n *northbound.Node) *gnmi.Path {
	elems := n.Elems()
	out := &gnmi.Path{Elem: make([]*gnmi.PathElem, 0, len(elems))}
	for _, e := range elems {
		out.Elem = append(out.Elem, &gnmi.PathElem{Name: e.Name, Key: e.Keys})
	}
	return out
}

func typedValueString(val *gnmi.TypedValue) (string, error) {
	switch v := val.GetValue().(type) {
	case *gnmi.TypedValue_StringVal:
		return v.StringVal, nil
	case *gnmi.TypedValue_AsciiVal:
		return v.AsciiVal, nil
	case *gnmi.TypedValue_UintVal:
		return strconv.FormatUint(v.UintVal, 10), nil
	case *gnmi.TypedValue_IntVal:
		return strconv.FormatInt(v.IntVal, 10), nil
	case *gnmi.TypedValue_BoolVal:
		return strconv.FormatBool(v.BoolVal), nil
	}
	return "", fmt.Errorf("unsupported value encoding %T", val.GetValue())
}
