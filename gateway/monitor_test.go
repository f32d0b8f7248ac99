package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClient is a scriptable Client shared by the monitor and handler
// tests.
type fakeClient struct {
	mu sync.Mutex

	estimate      FeeEstimate
	estimateErr   error
	estimateCalls int

	submitFn func(SubmitRequest) (SubmitResult, error)
	submits  []SubmitRequest

	pollFn      func(txHash string, call int) (PollResult, error)
	pollResults []PollResult
	pollErrs    []error
	pollCalls   int
	pollsByHash map[string]int
}

func (f *fakeClient) EstimateFee(ctx context.Context, chain, network string) (FeeEstimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimateCalls++
	if f.estimateErr != nil {
		return FeeEstimate{}, f.estimateErr
	}
	est := f.estimate
	if est.Timestamp.IsZero() {
		est.Timestamp = time.Now()
	}
	return est, nil
}

func (f *fakeClient) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	f.mu.Lock()
	f.submits = append(f.submits, req)
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		return SubmitResult{}, errors.New("no submit scripted")
	}
	return fn(req)
}

func (f *fakeClient) PollStatus(ctx context.Context, chain, network, txHash string) (PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.pollCalls
	f.pollCalls++
	if f.pollFn != nil {
		if f.pollsByHash == nil {
			f.pollsByHash = make(map[string]int)
		}
		call := f.pollsByHash[txHash]
		f.pollsByHash[txHash] = call + 1
		return f.pollFn(txHash, call)
	}
	if i < len(f.pollErrs) && f.pollErrs[i] != nil {
		return PollResult{}, f.pollErrs[i]
	}
	if i < len(f.pollResults) {
		return f.pollResults[i], nil
	}
	if len(f.pollResults) > 0 {
		return f.pollResults[len(f.pollResults)-1], nil
	}
	return PollResult{Status: TxStatusPending}, nil
}

func (f *fakeClient) submitted() []SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SubmitRequest, len(f.submits))
	copy(out, f.submits)
	return out
}

func (f *fakeClient) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCalls
}

type eventRecorder struct {
	mu     sync.Mutex
	events []TxEvent
	err    error
}

func (r *eventRecorder) callback(ctx context.Context, ev TxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *eventRecorder) kinds() []TxEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TxEventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func fastMonitor(client Client) *Monitor {
	return NewMonitor(client, MonitorConfig{
		PollInterval: 5 * time.Millisecond,
		MaxPollTime:  time.Second,
	}, nil, nil)
}

func TestAwaitPollsUntilConfirmed(t *testing.T) {
	client := &fakeClient{
		pollResults: []PollResult{
			{Status: TxStatusPending},
			{Status: TxStatusPending},
			{Status: TxStatusConfirmed, Payload: map[string]interface{}{"fee": 0.0002}},
		},
	}
	rec := &eventRecorder{}
	res, err := fastMonitor(client).Await(context.Background(), MonitorRequest{
		Chain:      "solana",
		Network:    "mainnet-beta",
		OrderID:    "ord-1",
		Submission: SubmitResult{TxHash: "sig-1", Status: TxStatusPending},
	}, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeConfirmed {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if res.Payload["fee"] != 0.0002 {
		t.Fatalf("payload = %v", res.Payload)
	}
	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[0] != TxEventHash || kinds[1] != TxEventConfirmed {
		t.Fatalf("events = %v", kinds)
	}
	if got := client.polls(); got != 3 {
		t.Fatalf("polls = %d", got)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	client := &fakeClient{} // every poll pending
	mon := NewMonitor(client, MonitorConfig{
		PollInterval: 5 * time.Millisecond,
		MaxPollTime:  30 * time.Millisecond,
	}, nil, nil)

	rec := &eventRecorder{}
	res, err := mon.Await(context.Background(), MonitorRequest{
		Chain:      "solana",
		OrderID:    "ord-1",
		Submission: SubmitResult{TxHash: "sig-1"},
	}, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if !strings.Contains(res.Message, "timed out") {
		t.Fatalf("message = %q", res.Message)
	}
	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[1] != TxEventFailed {
		t.Fatalf("events = %v", kinds)
	}
	last := rec.events[len(rec.events)-1]
	if !strings.Contains(last.Message, "timed out") {
		t.Fatalf("failed event message = %q", last.Message)
	}
}

func TestAwaitReportsExplicitFailure(t *testing.T) {
	client := &fakeClient{
		pollResults: []PollResult{
			{Status: TxStatusPending},
			{Status: TxStatusFailed, ErrorMessage: "slippage exceeded"},
		},
	}
	rec := &eventRecorder{}
	res, err := fastMonitor(client).Await(context.Background(), MonitorRequest{
		OrderID:    "ord-1",
		Submission: SubmitResult{TxHash: "sig-1"},
	}, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeFailed || res.Message != "slippage exceeded" {
		t.Fatalf("result = %+v", res)
	}
}

func TestAwaitShortCircuitsOnTerminalSubmission(t *testing.T) {
	client := &fakeClient{}
	rec := &eventRecorder{}
	res, err := fastMonitor(client).Await(context.Background(), MonitorRequest{
		OrderID: "ord-1",
		Submission: SubmitResult{
			TxHash: "sig-1",
			Status: TxStatusConfirmed,
			Payload: map[string]interface{}{
				"fee": 0.001,
			},
		},
	}, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeConfirmed {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if got := client.polls(); got != 0 {
		t.Fatalf("polls = %d on an already confirmed submission", got)
	}
	kinds := rec.kinds()
	if len(kinds) != 1 || kinds[0] != TxEventConfirmed {
		t.Fatalf("events = %v", kinds)
	}
}

func TestAwaitFailsWithoutTxHash(t *testing.T) {
	rec := &eventRecorder{}
	res, err := fastMonitor(&fakeClient{}).Await(context.Background(), MonitorRequest{
		OrderID:    "ord-1",
		Submission: SubmitResult{},
	}, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	kinds := rec.kinds()
	if len(kinds) != 1 || kinds[0] != TxEventFailed {
		t.Fatalf("events = %v", kinds)
	}
}

func TestAwaitSuppressesHashEventWhenKnown(t *testing.T) {
	client := &fakeClient{
		pollResults: []PollResult{{Status: TxStatusConfirmed}},
	}
	rec := &eventRecorder{}
	_, err := fastMonitor(client).Await(context.Background(), MonitorRequest{
		OrderID:    "ord-1",
		Submission: SubmitResult{TxHash: "sig-1"},
		HashKnown:  true,
	}, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	kinds := rec.kinds()
	if len(kinds) != 1 || kinds[0] != TxEventConfirmed {
		t.Fatalf("events = %v", kinds)
	}
}

func TestAwaitPropagatesCallbackError(t *testing.T) {
	client := &fakeClient{
		pollResults: []PollResult{{Status: TxStatusConfirmed}},
	}
	rec := &eventRecorder{err: errors.New("persistence broken")}
	_, err := fastMonitor(client).Await(context.Background(), MonitorRequest{
		OrderID:    "ord-1",
		Submission: SubmitResult{TxHash: "sig-1"},
	}, rec.callback)
	if err == nil || !strings.Contains(err.Error(), "persistence broken") {
		t.Fatalf("err = %v", err)
	}
}

func TestAwaitTreatsPollErrorsAsTransient(t *testing.T) {
	client := &fakeClient{
		pollErrs:    []error{errors.New("relay hiccup")},
		pollResults: []PollResult{{}, {Status: TxStatusConfirmed}},
	}
	res, err := fastMonitor(client).Await(context.Background(), MonitorRequest{
		OrderID:    "ord-1",
		Submission: SubmitResult{TxHash: "sig-1"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeConfirmed {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if got := client.polls(); got != 2 {
		t.Fatalf("polls = %d", got)
	}
}

func TestAwaitCancellationSkipsCallbacks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{} // always pending
	rec := &eventRecorder{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := fastMonitor(client).Await(ctx, MonitorRequest{
			OrderID:    "ord-1",
			Submission: SubmitResult{TxHash: "sig-1"},
			HashKnown:  true,
		}, rec.callback)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	}()
	time.Sleep(15 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Await did not return after cancel")
	}
	if kinds := rec.kinds(); len(kinds) != 0 {
		t.Fatalf("events after cancellation: %v", kinds)
	}
}
