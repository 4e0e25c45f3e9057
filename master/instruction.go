package master

import rs "github.com/sharedcode/regionserver"

// InstructionKind enumerates the instruction verbs a master sends a region server.
type InstructionKind int

const (
	// Open directs the region server to open the named region.
	Open InstructionKind = iota
	// Close directs the region server to close the named region and report completion.
	Close
	// CloseWithoutReport directs a close that is not acknowledged back (master already knows, e.g. a shutdown sweep).
	CloseWithoutReport
	// Stop directs the region server to close every region (without reporting) and
	// stop sending heartbeats; the process, the instruction worker and the chores keep running.
	Stop
	// CallServerStartup directs the region server to re-run the startup handshake, e.g. after a master failover.
	CallServerStartup
)

// Instruction is one queued unit of master-directed work.
type Instruction struct {
	Kind       InstructionKind  `json:"kind"`
	RegionName string           `json:"region_name,omitempty"`
	Region     *rs.RegionInfo   `json:"region,omitempty"`
}
