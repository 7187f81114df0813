package domain

import (
	"encoding/json"
	"fmt"
)

// StatusEvent is one lifecycle notification for an order. Each status has its
// own concrete type carrying only the fields that status defines.
type StatusEvent interface {
	OrderID() string
	Status() OrderStatus
}

type PendingEvent struct{ ID string }

type RoutingEvent struct {
	ID     string
	Chosen Venue
	RQuote Quote
	MQuote Quote
}

type BuildingEvent struct {
	ID     string
	Chosen Venue
	RQuote Quote
	MQuote Quote
}

type SubmittedEvent struct{ ID string }

type ConfirmedEvent struct {
	ID            string
	TxHash        string
	ExecutedPrice float64
}

type FailedEvent struct {
	ID       string
	Error    string
	Attempts int
}

func (e PendingEvent) OrderID() string   { return e.ID }
func (e RoutingEvent) OrderID() string   { return e.ID }
func (e BuildingEvent) OrderID() string  { return e.ID }
func (e SubmittedEvent) OrderID() string { return e.ID }
func (e ConfirmedEvent) OrderID() string { return e.ID }
func (e FailedEvent) OrderID() string    { return e.ID }

func (PendingEvent) Status() OrderStatus   { return Pending }
func (RoutingEvent) Status() OrderStatus   { return Routing }
func (BuildingEvent) Status() OrderStatus  { return Building }
func (SubmittedEvent) Status() OrderStatus { return Submitted }
func (ConfirmedEvent) Status() OrderStatus { return Confirmed }
func (FailedEvent) Status() OrderStatus    { return Failed }

// eventWire is the JSON object published on the order channel.
type eventWire struct {
	OrderID       string      `json:"orderId"`
	Status        OrderStatus `json:"status"`
	Chosen        Venue       `json:"chosen,omitempty"`
	RQuote        *Quote      `json:"rQuote,omitempty"`
	MQuote        *Quote      `json:"mQuote,omitempty"`
	TxHash        string      `json:"txHash,omitempty"`
	ExecutedPrice float64     `json:"executedPrice,omitempty"`
	Error         string      `json:"error,omitempty"`
	Attempts      int         `json:"attempts,omitempty"`
}

func EncodeEvent(ev StatusEvent) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode event: nil event")
	}
	w := eventWire{OrderID: ev.OrderID(), Status: ev.Status()}
	switch e := ev.(type) {
	case PendingEvent, SubmittedEvent:
	case RoutingEvent:
		w.Chosen, w.RQuote, w.MQuote = e.Chosen, &e.RQuote, &e.MQuote
	case BuildingEvent:
		w.Chosen, w.RQuote, w.MQuote = e.Chosen, &e.RQuote, &e.MQuote
	case ConfirmedEvent:
		w.TxHash, w.ExecutedPrice = e.TxHash, e.ExecutedPrice
	case FailedEvent:
		w.Error, w.Attempts = e.Error, e.Attempts
	default:
		return nil, fmt.Errorf("encode event: unknown type %T", ev)
	}
	return json.Marshal(w)
}

func DecodeEvent(b []byte) (StatusEvent, error) {
	var w eventWire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	deref := func(q *Quote) Quote {
		if q == nil {
			return Quote{}
		}
		return *q
	}
	switch w.Status {
	case Pending:
		return PendingEvent{ID: w.OrderID}, nil
	case Routing:
		return RoutingEvent{ID: w.OrderID, Chosen: w.Chosen, RQuote: deref(w.RQuote), MQuote: deref(w.MQuote)}, nil
	case Building:
		return BuildingEvent{ID: w.OrderID, Chosen: w.Chosen, RQuote: deref(w.RQuote), MQuote: deref(w.MQuote)}, nil
	case Submitted:
		return SubmittedEvent{ID: w.OrderID}, nil
	case Confirmed:
		return ConfirmedEvent{ID: w.OrderID, TxHash: w.TxHash, ExecutedPrice: w.ExecutedPrice}, nil
	case Failed:
		return FailedEvent{ID: w.OrderID, Error: w.Error, Attempts: w.Attempts}, nil
	default:
		return nil, fmt.Errorf("decode event: unknown status %q", w.Status)
	}
}
