package validation

import (
	"fmt"
	"strings"
	"testing"
)

func validReplicaRequest() ReplicaRequest {
	return ReplicaRequest{
		DataDir:    "/var/lib/docstore",
		FeedAddr:   "tcp://0.0.0.0:9201",
		FeedSecret: "0123456789abcdef0123456789abcdef",
		Members: []MemberRequest{
			{ID: "replica-1", Host: "db1.internal:9201"},
			{ID: "replica-2", Host: "db2.internal:9201"},
		},
	}
}

// TestValidateReplicaRequest tests replication config validation
func TestValidateReplicaRequest(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*ReplicaRequest)
		expectError bool
		errorField  string
	}{
		{
			name:        "Valid replica request",
			mutate:      func(r *ReplicaRequest) {},
			expectError: false,
		},
		{
			name:        "Single member - valid",
			mutate:      func(r *ReplicaRequest) { r.Members = r.Members[:1] },
			expectError: false,
		},
		{
			name:        "Member without ID - valid",
			mutate:      func(r *ReplicaRequest) { r.Members[0].ID = "" },
			expectError: false,
		},
		{
			name:        "Missing data dir - invalid",
			mutate:      func(r *ReplicaRequest) { r.DataDir = "" },
			expectError: true,
			errorField:  "DataDir",
		},
		{
			name:        "Missing feed addr - invalid",
			mutate:      func(r *ReplicaRequest) { r.FeedAddr = "" },
			expectError: true,
			errorField:  "FeedAddr",
		},
		{
			name:        "Missing feed secret - invalid",
			mutate:      func(r *ReplicaRequest) { r.FeedSecret = "" },
			expectError: true,
			errorField:  "FeedSecret",
		},
		{
			name:        "Short feed secret - invalid",
			mutate:      func(r *ReplicaRequest) { r.FeedSecret = "too-short" },
			expectError: true,
			errorField:  "FeedSecret",
		},
		{
			name:        "No members - invalid",
			mutate:      func(r *ReplicaRequest) { r.Members = nil },
			expectError: true,
			errorField:  "Members",
		},
		{
			name: "Too many members - invalid",
			mutate: func(r *ReplicaRequest) {
				r.Members = nil
				for i := 0; i <= MaxMembers; i++ {
					r.Members = append(r.Members, MemberRequest{
						Host: fmt.Sprintf("db%d.internal:9201", i),
					})
				}
			},
			expectError: true,
			errorField:  "Members",
		},
		{
			name:        "Member host without port - invalid",
			mutate:      func(r *ReplicaRequest) { r.Members[1].Host = "db2.internal" },
			expectError: true,
			errorField:  "Members",
		},
		{
			name:        "Duplicate member host - invalid",
			mutate:      func(r *ReplicaRequest) { r.Members[1].Host = r.Members[0].Host },
			expectError: true,
			errorField:  "Members",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validReplicaRequest()
			tt.mutate(&req)

			err := ValidateReplicaRequest(&req)

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
			if tt.expectError && err != nil && tt.errorField != "" {
				if !strings.Contains(err.Error(), tt.errorField) {
					t.Errorf("Expected error for field %s, but got: %v", tt.errorField, err)
				}
			}
		})
	}
}

func TestValidateReplicaRequestNil(t *testing.T) {
	if err := ValidateReplicaRequest(nil); err == nil {
		t.Error("Expected error for nil request, got nil")
	}
}

// TestValidateHost tests member host validation
func TestValidateHost(t *testing.T) {
	tests := []struct {
		name        string
		host        string
		expectError bool
	}{
		{
			name:        "Valid hostname with port",
			host:        "db1.internal:9201",
			expectError: false,
		},
		{
			name:        "Valid IP with port",
			host:        "10.0.0.5:9201",
			expectError: false,
		},
		{
			name:        "Valid hostname with dashes",
			host:        "replica-east-1.example.com:9201",
			expectError: false,
		},
		{
			name:        "Missing port - invalid",
			host:        "db1.internal",
			expectError: true,
		},
		{
			name:        "Empty host - invalid",
			host:        "",
			expectError: true,
		},
		{
			name:        "Non-numeric port - invalid",
			host:        "db1.internal:abc",
			expectError: true,
		},
		{
			name:        "Host with scheme - invalid",
			host:        "tcp://db1.internal:9201",
			expectError: true,
		},
		{
			name:        "Host too long - invalid",
			host:        strings.Repeat("a", MaxHostLength) + ":9201",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHost(tt.host)

			if tt.expectError && err == nil {
				t.Errorf("Expected error for host '%s' but got nil", tt.host)
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error for host '%s' but got: %v", tt.host, err)
			}
		})
	}
}

// TestValidateNamespace tests oplog namespace validation
func TestValidateNamespace(t *testing.T) {
	tests := []struct {
		name        string
		ns          string
		expectError bool
	}{
		{
			name:        "Valid namespace",
			ns:          "app.users",
			expectError: false,
		},
		{
			name:        "Valid oplog namespace",
			ns:          "local.oplog.rs",
			expectError: false,
		},
		{
			name:        "Valid namespace with underscore",
			ns:          "app.user_events",
			expectError: false,
		},
		{
			name:        "Missing collection - invalid",
			ns:          "app",
			expectError: true,
		},
		{
			name:        "Empty namespace - invalid",
			ns:          "",
			expectError: true,
		},
		{
			name:        "Database starting with digit - invalid",
			ns:          "1app.users",
			expectError: true,
		},
		{
			name:        "Namespace with space - invalid",
			ns:          "app.user events",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNamespace(tt.ns)

			if tt.expectError && err == nil {
				t.Errorf("Expected error for namespace '%s' but got nil", tt.ns)
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error for namespace '%s' but got: %v", tt.ns, err)
			}
		})
	}
}

// TestValidateBatchSize tests fetch batch size validation
func TestValidateBatchSize(t *testing.T) {
	tests := []struct {
		name        string
		size        int
		expectError bool
	}{
		{
			name:        "Single entry batch - valid",
			size:        1,
			expectError: false,
		},
		{
			name:        "Typical batch - valid",
			size:        256,
			expectError: false,
		},
		{
			name:        "At limit - valid",
			size:        MaxBatchSize,
			expectError: false,
		},
		{
			name:        "Exceeds limit - invalid",
			size:        MaxBatchSize + 1,
			expectError: true,
		},
		{
			name:        "Zero - invalid",
			size:        0,
			expectError: true,
		},
		{
			name:        "Negative - invalid",
			size:        -1,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchSize(tt.size)

			if tt.expectError && err == nil {
				t.Errorf("Expected error for size %d but got nil", tt.size)
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error for size %d but got: %v", tt.size, err)
			}
		})
	}
}
