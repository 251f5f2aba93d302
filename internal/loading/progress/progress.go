// Package progress classifies client load progress into ordered stages.
//
// Classify is a pure function of a LoadProgress snapshot, so the same
// snapshot always yields the same Stage. The sequencer calls it on every
// poll tick and the UI uses Stage.Description and Stage.Rank to render it.
package progress

import "github.com/vietddude/biomes-client/internal/core/domain"

// RequiredFrames is how many frames must render before the client counts as ready.
const RequiredFrames = 30

// LoadProgress is a point-in-time read of every signal the classifier needs.
type LoadProgress struct {
	StartedLoading      bool                    `json:"started_loading"`
	EarlyContextPresent bool                    `json:"early_context_present"`
	EarlyContextLoaded  bool                    `json:"early_context_loaded"`
	ConnectionStatus    domain.ConnectionStatus `json:"connection_status"`
	Bootstrapped        bool                    `json:"bootstrapped"`
	EntitiesLoaded      int                     `json:"entities_loaded"`
	PlayerMeshLoaded    bool                    `json:"player_mesh_loaded"`
	TerrainMeshLoaded   bool                    `json:"terrain_mesh_loaded"`
	FramesRendered      int                     `json:"frames_rendered"`
}

// Classify maps a snapshot to its Stage. The first matching rule wins.
func Classify(p LoadProgress) Stage {
	switch {
	case !p.StartedLoading:
		return StageNoProgress
	case !p.EarlyContextPresent:
		return StageNoEarlyContext
	case !p.EarlyContextLoaded:
		return StageEarlyContext
	}

	switch {
	case p.ConnectionStatus.IsBroken():
		return StageBroken
	case p.ConnectionStatus == domain.ConnectionConnecting:
		return StageConnecting
	case p.ConnectionStatus == domain.ConnectionWaitingOnHeartbeat:
		return StageWaitingForHeartbeat
	case p.ConnectionStatus.IsTroubled():
		return StageProblemsConnecting
	case p.ConnectionStatus != domain.ConnectionReady:
		// Unknown transport state: nothing downstream can be trusted.
		return StageBroken
	}

	switch {
	case !p.Bootstrapped:
		return StageBootstrapping
	case p.EntitiesLoaded == 0:
		return StageGameEntities
	case !p.PlayerMeshLoaded:
		return StagePlayerMesh
	case !p.TerrainMeshLoaded:
		return StageTerrainMeshing
	case p.FramesRendered < RequiredFrames:
		return StageSceneRendered
	default:
		return StageReady
	}
}

// Progress is a classified snapshot published to observers.
type Progress struct {
	Stage        Stage        `json:"stage"`
	Description  string       `json:"description"`
	Rank         int          `json:"rank"`
	Attempt      int          `json:"attempt"`
	Reconnecting bool         `json:"reconnecting"`
	Snapshot     LoadProgress `json:"snapshot"`
}

// New builds a Progress for a classified snapshot.
func New(snapshot LoadProgress, stage Stage, attempt int) Progress {
	return Progress{
		Stage:       stage,
		Description: stage.Description(),
		Rank:        stage.Rank(),
		Attempt:     attempt,
		Snapshot:    snapshot,
	}
}

// Reconnecting builds the progress shown while the sequencer waits to retry.
func Reconnecting(last Stage, attempt int) Progress {
	return Progress{
		Stage:        last,
		Description:  "Reconnecting...",
		Rank:         last.Rank(),
		Attempt:      attempt,
		Reconnecting: true,
	}
}
