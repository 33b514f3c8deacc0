// Package jobpool implements the reconciled internal view of queued and
// scheduled jobs: the Job model, the JobPool reconciliation algorithm,
// and an adapter translating raw external job records into Jobs.
package jobpool

import (
	"regexp"
	"strconv"
)

// JobState is a Job's lifecycle state within the pool.
type JobState string

const (
	Unscheduled JobState = "Unscheduled"
	Scheduled   JobState = "Scheduled"
)

// Documented defaults for fields an external record leaves unset,
// carried forward from the original adapter (original_source's
// Job.__init__) since the distilled spec names the behavior without
// naming the values.
const (
	DefaultOwner         = "Default-User"
	DefaultPriority      = 1
	DefaultVMType        = "canfarbase"
	DefaultNetwork       = "private"
	DefaultCPUArch       = "x86"
	DefaultImageName     = "Default-Image"
	DefaultImageLocation = "http://vmrepo.phys.uvic.ca/vms/canfarbase_i386.dev.img.gz"
	DefaultMemory        = 512
	DefaultCPUCores      = 1
	DefaultStorage       = 1
)

// Job is one unit of work a scheduling pass tries to place on a VM.
type Job struct {
	ID       string
	User     string
	Priority int
	State    JobState

	VMType        string
	Network       string
	CPUArch       string
	ImageName     string
	ImageLocation string
	Memory        int
	CPUCores      int
	Storage       int
}

// Record is one raw job record as produced by a JobQuerySource: a
// keyed string mapping, mirroring the original's "convert classad
// struct into dict, stupidly, without checking types" — every field is
// string-valued; numeric conversions happen at the adapter boundary,
// exactly where the original casts (e.g. int(VMMem)).
type Record map[string]string

var vmTypeExpr = regexp.MustCompile(`VMType\s*=\?=\s*"(?P<vm_type>.+?)"`)

// JobFromRecord builds a Job from a raw external record, applying the
// documented defaults to any field the record omits. Requirements is
// parsed for a literal `VMType =?= "<name>"` clause; if absent or
// malformed, VMType keeps its default.
func JobFromRecord(rec Record) *Job {
	j := &Job{
		ID:            rec["GlobalJobId"],
		User:          stringOr(rec, "Owner", DefaultOwner),
		Priority:      intOr(rec, "JobPrio", DefaultPriority),
		State:         Unscheduled,
		VMType:        parseVMType(rec["Requirements"]),
		Network:       stringOr(rec, "VMNetwork", DefaultNetwork),
		CPUArch:       stringOr(rec, "VMCPUArch", DefaultCPUArch),
		ImageName:     stringOr(rec, "VMName", DefaultImageName),
		ImageLocation: stringOr(rec, "VMLoc", DefaultImageLocation),
		Memory:        intOr(rec, "VMMem", DefaultMemory),
		CPUCores:      intOr(rec, "VMCPUCores", DefaultCPUCores),
		Storage:       intOr(rec, "VMStorage", DefaultStorage),
	}
	return j
}

func parseVMType(requirements string) string {
	m := vmTypeExpr.FindStringSubmatch(requirements)
	if m == nil {
		return DefaultVMType
	}
	return m[1]
}

func stringOr(rec Record, key, def string) string {
	if v, ok := rec[key]; ok && v != "" {
		return v
	}
	return def
}

func intOr(rec Record, key string, def int) int {
	v, ok := rec[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
