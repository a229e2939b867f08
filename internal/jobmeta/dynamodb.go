package jobmeta

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// isoLayout is the ISO-8601 layout used for every datetime attribute,
// matching the original's datetime.isoformat() encoding.
const isoLayout = time.RFC3339Nano

// ToItem encodes m as a DynamoDB attribute-value map: enums as their name
// string, datetimes as ISO-8601 strings, booleans as booleans, integers as
// numbers, floats as decimal-shaped number strings. A zero time.Time is
// omitted rather than encoded, mirroring unset optional timestamps.
func (m *Metadata) ToItem() map[string]*dynamodb.AttributeValue {
	item := map[string]*dynamodb.AttributeValue{
		"job_id":                    {S: aws.String(m.JobID)},
		"sdk_version":               {S: aws.String(m.SDKVersion)},
		"token":                     {S: aws.String(m.Token)},
		"role":                      {S: aws.String(m.Role)},
		"requested_backend":         {S: aws.String(m.RequestedBackend)},
		"n_shots":                   {N: aws.String(fmt.Sprintf("%d", m.NShots))},
		"max_elapsed_s":             {N: aws.String(fmt.Sprintf("%v", m.MaxElapsedSeconds))},
		"save_job":                  {BOOL: aws.Bool(m.SaveJob)},
		"state_save_policy":         {S: aws.String(string(m.StateSavePolicy))},
		"resource_squeezing_level":  {N: aws.String(fmt.Sprintf("%v", m.ResourceSqueezingLevel))},
		"status":                    {S: aws.String(string(m.Status))},
		"status_code":               {S: aws.String(m.StatusCode)},
		"status_message":           {S: aws.String(m.StatusMessage)},
		"actual_backend_name":       {S: aws.String(m.ActualBackendName)},
		"raw_size_bytes":            {N: aws.String(fmt.Sprintf("%d", m.RawSizeBytes))},
		"encoded_size_bytes":        {N: aws.String(fmt.Sprintf("%d", m.EncodedSizeBytes))},
		"version_physical_lab":      {S: aws.String(m.Versions.PhysicalLab)},
		"version_quantum_computer":  {S: aws.String(m.Versions.QuantumComputer)},
		"version_scheduler":         {S: aws.String(m.Versions.Scheduler)},
		"version_simulator":         {S: aws.String(m.Versions.Simulator)},
	}
	putTime(item, "submitted_at", m.SubmittedAt)
	putTime(item, "queued_at", m.QueuedAt)
	putTime(item, "dequeued_at", m.DequeuedAt)
	putTime(item, "compile_started_at", m.CompileStartedAt)
	putTime(item, "compile_finished_at", m.CompileFinishedAt)
	putTime(item, "execution_started_at", m.ExecutionStartedAt)
	putTime(item, "execution_finished_at", m.ExecutionFinishedAt)
	putTime(item, "finished_at", m.FinishedAt)
	putTime(item, "job_expiry", m.JobExpiry)
	if !m.JobExpiry.IsZero() {
		// job_expiry is also written as job_expiry_ttl, a unix-epoch
		// number, for use as the store's TTL attribute.
		item["job_expiry_ttl"] = &dynamodb.AttributeValue{N: aws.String(fmt.Sprintf("%d", m.JobExpiry.Unix()))}
	}
	return item
}

func putTime(item map[string]*dynamodb.AttributeValue, key string, t time.Time) {
	if t.IsZero() {
		return
	}
	item[key] = &dynamodb.AttributeValue{S: aws.String(t.Format(isoLayout))}
}

// FromItem decodes a DynamoDB attribute-value map back into a Metadata
// value. It is the inverse of ToItem and is used both by ordinary reads and
// by the round-trip idempotence tests in §8.
func FromItem(item map[string]*dynamodb.AttributeValue) (*Metadata, error) {
	m := &Metadata{}
	m.JobID = stringOf(item["job_id"])
	m.SDKVersion = stringOf(item["sdk_version"])
	m.Token = stringOf(item["token"])
	m.Role = stringOf(item["role"])
	m.RequestedBackend = stringOf(item["requested_backend"])
	m.NShots = int64Of(item["n_shots"])
	m.MaxElapsedSeconds = float64Of(item["max_elapsed_s"])
	m.SaveJob = boolOf(item["save_job"])
	m.StateSavePolicy = StateSavePolicy(stringOf(item["state_save_policy"]))
	m.ResourceSqueezingLevel = float64Of(item["resource_squeezing_level"])
	m.Status = Status(stringOf(item["status"]))
	m.StatusCode = stringOf(item["status_code"])
	m.StatusMessage = stringOf(item["status_message"])
	m.ActualBackendName = stringOf(item["actual_backend_name"])
	m.RawSizeBytes = int64Of(item["raw_size_bytes"])
	m.EncodedSizeBytes = int64Of(item["encoded_size_bytes"])
	m.Versions = Versions{
		PhysicalLab:     stringOf(item["version_physical_lab"]),
		QuantumComputer: stringOf(item["version_quantum_computer"]),
		Scheduler:       stringOf(item["version_scheduler"]),
		Simulator:       stringOf(item["version_simulator"]),
	}

	var err error
	if m.SubmittedAt, err = timeOf(item["submitted_at"]); err != nil {
		return nil, fmt.Errorf("jobmeta: submitted_at: %w", err)
	}
	if m.QueuedAt, err = timeOf(item["queued_at"]); err != nil {
		return nil, fmt.Errorf("jobmeta: queued_at: %w", err)
	}
	if m.DequeuedAt, err = timeOf(item["dequeued_at"]); err != nil {
		return nil, fmt.Errorf("jobmeta: dequeued_at: %w", err)
	}
	if m.CompileStartedAt, err = timeOf(item["compile_started_at"]); err != nil {
		return nil, fmt.Errorf("jobmeta: compile_started_at: %w", err)
	}
	if m.CompileFinishedAt, err = timeOf(item["compile_finished_at"]); err != nil {
		return nil, fmt.Errorf("jobmeta: compile_finished_at: %w", err)
	}
	if m.ExecutionStartedAt, err = timeOf(item["execution_started_at"]); err != nil {
		return nil, fmt.Errorf("jobmeta: execution_started_at: %w", err)
	}
	if m.ExecutionFinishedAt, err = timeOf(item["execution_finished_at"]); err != nil {
		return nil, fmt.Errorf("jobmeta: execution_finished_at: %w", err)
	}
	if m.FinishedAt, err = timeOf(item["finished_at"]); err != nil {
		return nil, fmt.Errorf("jobmeta: finished_at: %w", err)
	}
	if m.JobExpiry, err = timeOf(item["job_expiry"]); err != nil {
		return nil, fmt.Errorf("jobmeta: job_expiry: %w", err)
	}
	return m, nil
}

func stringOf(av *dynamodb.AttributeValue) string {
	if av == nil || av.S == nil {
		return ""
	}
	return *av.S
}

func boolOf(av *dynamodb.AttributeValue) bool {
	if av == nil || av.BOOL == nil {
		return false
	}
	return *av.BOOL
}

func int64Of(av *dynamodb.AttributeValue) int64 {
	if av == nil || av.N == nil {
		return 0
	}
	var v int64
	fmt.Sscanf(*av.N, "%d", &v)
	return v
}

func float64Of(av *dynamodb.AttributeValue) float64 {
	if av == nil || av.N == nil {
		return 0
	}
	var v float64
	fmt.Sscanf(*av.N, "%v", &v)
	return v
}

func timeOf(av *dynamodb.AttributeValue) (time.Time, error) {
	if av == nil || av.S == nil || *av.S == "" {
		return time.Time{}, nil
	}
	return time.Parse(isoLayout, *av.S)
}
