package queue

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

func TestIsReceiptHandleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"typed", &types.ReceiptHandleIsInvalid{Message: aws.String("bad handle")}, true},
		{"code", &smithy.GenericAPIError{Code: "ReceiptHandleIsInvalid"}, true},
		{"expired parameter", &smithy.GenericAPIError{
			Code:    "InvalidParameterValue",
			Message: "Value abc for parameter ReceiptHandle is invalid. Reason: The receipt handle has expired.",
		}, true},
		{"wrapped", fmt.Errorf("operation error SQS: DeleteMessage: %w", &smithy.GenericAPIError{Code: "ReceiptHandleIsInvalid"}), true},
		{"throttled", &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded"}, false},
		{"plain", errors.New("dial tcp: timeout"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isReceiptHandleError(tt.err); got != tt.want {
				t.Fatalf("isReceiptHandleError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewSQSBrokerRequiresQueueURL(t *testing.T) {
	if _, err := NewSQSBroker(context.Background(), SQSConfig{Region: "us-east-1"}); err == nil {
		t.Fatal("expected error without queue URL")
	}
}

// sqsStub answers the JSON protocol calls the broker makes.
type sqsStub struct {
	mu       sync.Mutex
	calls    []string
	requests []map[string]interface{}
	messages []map[string]string
	invalid  map[string]bool
}

func (s *sqsStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := strings.TrimPrefix(r.Header.Get("X-Amz-Target"), "AmazonSQS.")
	var req map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.calls = append(s.calls, op)
	s.requests = append(s.requests, req)

	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	switch op {
	case "ReceiveMessage":
		out := make([]map[string]string, 0, len(s.messages))
		for _, m := range s.messages {
			sum := md5.Sum([]byte(m["Body"]))
			out = append(out, map[string]string{
				"MessageId":     m["MessageId"],
				"ReceiptHandle": m["ReceiptHandle"],
				"Body":          m["Body"],
				"MD5OfBody":     hex.EncodeToString(sum[:]),
			})
		}
		s.messages = nil
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"Messages": out})
	case "DeleteMessage":
		if handle, _ := req["ReceiptHandle"].(string); s.invalid[handle] {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"__type":  "com.amazonaws.sqs#ReceiptHandleIsInvalid",
				"message": "The input receipt handle is invalid.",
			})
			return
		}
		_, _ = w.Write([]byte("{}"))
	case "PurgeQueue":
		_, _ = w.Write([]byte("{}"))
	default:
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"__type": "UnsupportedOperation", "message": op})
	}
}

func (s *sqsStub) call(i int) (string, map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.calls) {
		return "", nil
	}
	return s.calls[i], s.requests[i]
}

func (s *sqsStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newStubBroker(t *testing.T, stub *sqsStub) *SQSBroker {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	broker, err := NewSQSBroker(context.Background(), SQSConfig{
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test",
		QueueURL:  srv.URL + "/000000000000/loads",
		Endpoint:  srv.URL,
	})
	if err != nil {
		t.Fatalf("NewSQSBroker failed: %v", err)
	}
	return broker
}

func TestSQSBrokerReceive(t *testing.T) {
	stub := &sqsStub{messages: []map[string]string{
		{"MessageId": "m1", "ReceiptHandle": "rh-1", "Body": `{"truck_number":"T1","count":12}`},
	}}
	broker := newStubBroker(t, stub)

	got, err := broker.Receive(context.Background(), 1, 10*time.Second, 2*time.Minute)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" || got[0].LeaseToken != "rh-1" || got[0].Body != `{"truck_number":"T1","count":12}` {
		t.Fatalf("unexpected deliveries %+v", got)
	}

	op, req := stub.call(0)
	if op != "ReceiveMessage" {
		t.Fatalf("expected ReceiveMessage, got %s", op)
	}
	for field, want := range map[string]float64{
		"MaxNumberOfMessages": 1,
		"WaitTimeSeconds":     10,
		"VisibilityTimeout":   120,
	} {
		if req[field] != want {
			t.Fatalf("%s = %v, want %v", field, req[field], want)
		}
	}
	if !strings.HasSuffix(req["QueueUrl"].(string), "/000000000000/loads") {
		t.Fatalf("unexpected queue url %v", req["QueueUrl"])
	}

	empty, err := broker.Receive(context.Background(), 1, 0, time.Minute)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty receive, got %+v err=%v", empty, err)
	}
}

func TestSQSBrokerDeleteByLease(t *testing.T) {
	stub := &sqsStub{invalid: map[string]bool{"stale": true}}
	broker := newStubBroker(t, stub)
	ctx := context.Background()

	if err := broker.DeleteByLease(ctx, "rh-1"); err != nil {
		t.Fatalf("DeleteByLease failed: %v", err)
	}
	if op, req := stub.call(0); op != "DeleteMessage" || req["ReceiptHandle"] != "rh-1" {
		t.Fatalf("unexpected delete request %s %v", op, req)
	}

	err := broker.DeleteByLease(ctx, "stale")
	if !errors.Is(err, ErrLeaseInvalid) {
		t.Fatalf("expected ErrLeaseInvalid, got %v", err)
	}
}

func TestSQSBrokerPurgeAll(t *testing.T) {
	stub := &sqsStub{}
	broker := newStubBroker(t, stub)

	if err := broker.PurgeAll(context.Background()); err != nil {
		t.Fatalf("PurgeAll failed: %v", err)
	}
	if op, _ := stub.call(0); stub.callCount() != 1 || op != "PurgeQueue" {
		t.Fatalf("expected one PurgeQueue call, got %d calls starting with %q", stub.callCount(), op)
	}
}
