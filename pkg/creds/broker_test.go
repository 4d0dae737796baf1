package creds

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"

	"github.com/nimbusops/hiberctl/pkg/schedule"
)

type fakeSTS struct {
	calls int32
	err   error
}

func (f *fakeSTS) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &sts.AssumeRoleOutput{
		Credentials: &types.Credentials{
			AccessKeyId:     aws.String("AKIA-test"),
			SecretAccessKey: aws.String("secret"),
			SessionToken:    aws.String("token"),
			Expiration:      aws.Time(time.Now().Add(time.Hour)),
		},
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBrokerAssumeCachesByAccountRegion(t *testing.T) {
	fake := &fakeSTS{}
	b := NewBroker(fake, discardLogger())

	creds1, err := b.Assume(context.Background(), "role", "123", "us-east-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	creds2, err := b.Assume(context.Background(), "role", "123", "us-east-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds1 != creds2 {
		t.Fatalf("expected cached credentials to be identical")
	}
	if fake.calls != 1 {
		t.Fatalf("expected 1 AssumeRole call, got %d", fake.calls)
	}

	if _, err := b.Assume(context.Background(), "role", "123", "eu-west-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.calls != 2 {
		t.Fatalf("expected 2 AssumeRole calls after a new region, got %d", fake.calls)
	}
}

func TestBrokerAssumeSingleFlightsConcurrentMisses(t *testing.T) {
	fake := &fakeSTS{}
	b := NewBroker(fake, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Assume(context.Background(), "role", "123", "us-east-1", ""); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if fake.calls != 1 {
		t.Fatalf("expected exactly 1 AssumeRole call across concurrent misses, got %d", fake.calls)
	}
}

func TestBrokerAssumeWrapsFailure(t *testing.T) {
	fake := &fakeSTS{err: errors.New("access denied")}
	b := NewBroker(fake, discardLogger())

	_, err := b.Assume(context.Background(), "role", "123", "us-east-1", "")
	if err == nil {
		t.Fatal("expected error")
	}
	var credErr *schedule.CredentialAcquisitionFailedError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected CredentialAcquisitionFailedError, got %T", err)
	}
	if credErr.AccountID != "123" || credErr.Region != "us-east-1" {
		t.Fatalf("unexpected error fields: %+v", credErr)
	}
}
