package schedule

import (
	"errors"
	"testing"
)

func TestParseCanonicalID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    ParsedID
		wantErr bool
	}{
		{
			name: "vm",
			id:   "aws:aws:ec2:us-east-1:123456789012:vm/i-0abcdef1234567890",
			want: ParsedID{Partition: "aws", Region: "us-east-1", AccountID: "123456789012", Kind: KindVM, LocalID: "i-0abcdef1234567890"},
		},
		{
			name: "container service encodes parent",
			id:   "aws:aws:ecs:eu-west-1:111122223333:container-service/cluster-a/service-b",
			want: ParsedID{Partition: "aws", Region: "eu-west-1", AccountID: "111122223333", Kind: KindContainerService, LocalID: "service-b", ParentID: "cluster-a"},
		},
		{
			name:    "too few segments",
			id:      "aws:aws:ec2:us-east-1",
			wantErr: true,
		},
		{
			name:    "container service missing parent split",
			id:      "aws:aws:ecs:us-east-1:123456789012:container-service/service-b",
			wantErr: true,
		},
		{
			name:    "empty local id",
			id:      "aws:aws:ec2:us-east-1:123456789012:vm/",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCanonicalID(tt.id)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				var invalid *InvalidResourceIdentifierError
				if !errors.As(err, &invalid) {
					t.Fatalf("expected InvalidResourceIdentifierError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExecutionRecordComputeStatus(t *testing.T) {
	tests := []struct {
		name              string
		started, stopped, failed int
		want              ExecutionStatus
	}{
		{"all success", 2, 3, 0, StatusSuccess},
		{"mixed", 1, 0, 2, StatusPartial},
		{"total failure", 0, 0, 2, StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ExecutionRecord{Started: tt.started, Stopped: tt.stopped, Failed: tt.failed}
			if got := r.ComputeStatus(); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}
