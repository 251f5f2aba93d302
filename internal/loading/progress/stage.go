package progress

import "fmt"

// Stage is an ordered classification of load progress.
// Broken sits beside the connection sub-stages rather than after them.
type Stage int

const (
	StageNoProgress Stage = iota
	StageNoEarlyContext
	StageEarlyContext
	StageConnecting
	StageWaitingForHeartbeat
	StageProblemsConnecting
	StageBroken
	StageBootstrapping
	StageGameEntities
	StagePlayerMesh
	StageTerrainMeshing
	StageSceneRendered
	StageReady

	numStages
)

type stageInfo struct {
	name        string
	description string
	rank        int
}

// stageTable is the single source for stage names, UI text and progress ranks.
// Broken shares no rank with the connection stages: it is shown as a full
// restart of the connection phase.
var stageTable = [...]stageInfo{
	StageNoProgress:          {"no_progress", "Initializing", 0},
	StageNoEarlyContext:      {"no_early_context", "Starting up", 1},
	StageEarlyContext:        {"early_context", "Loading assets", 2},
	StageConnecting:          {"connecting", "Connecting to server", 3},
	StageWaitingForHeartbeat: {"waiting_for_heartbeat", "Waiting for server", 4},
	StageProblemsConnecting:  {"problems_connecting", "Having trouble connecting", 5},
	StageBroken:              {"broken", "Connection lost, retrying", 6},
	StageBootstrapping:       {"bootstrapping", "Joining world", 7},
	StageGameEntities:        {"game_entities", "Loading world data", 8},
	StagePlayerMesh:          {"player_mesh", "Building your character", 9},
	StageTerrainMeshing:      {"terrain_meshing", "Building terrain", 10},
	StageSceneRendered:       {"scene_rendered", "Rendering scene", 11},
	StageReady:               {"ready", "Ready", 12},
}

// The table must cover every Stage. Either line fails to compile when a
// variant is added without a row, or a row is added without a variant.
var (
	_ [len(stageTable) - int(numStages)]struct{}
	_ [int(numStages) - len(stageTable)]struct{}
)

// AllStages lists every stage in order.
func AllStages() []Stage {
	out := make([]Stage, 0, numStages)
	for s := StageNoProgress; s < numStages; s++ {
		out = append(out, s)
	}
	return out
}

// Valid reports whether s is a declared stage.
func (s Stage) Valid() bool {
	return s >= StageNoProgress && s < numStages
}

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageTable[s].name
}

// Description is the human-readable progress text for s.
func (s Stage) Description() string {
	if !s.Valid() {
		return "Unknown"
	}
	return stageTable[s].description
}

// Rank is the progress-bar position of s, 0 through 12.
func (s Stage) Rank() int {
	if !s.Valid() {
		return 0
	}
	return stageTable[s].rank
}

// MaxRank is the rank of StageReady.
func MaxRank() int {
	return stageTable[StageReady].rank
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stage name.
func (s *Stage) UnmarshalText(b []byte) error {
	st, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseStage looks a stage up by name.
func ParseStage(name string) (Stage, error) {
	for i, info := range stageTable {
		if info.name == name {
			return Stage(i), nil
		}
	}
	return StageNoProgress, fmt.Errorf("unknown stage %q", name)
}
