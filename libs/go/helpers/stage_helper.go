package helpers

import "github.com/cyphera/sponsor-relay/libs/go/constants"

// Stage constants define the possible deployment/runtime environments.
const (
	StageProd  = constants.ProdEnvironment
	StageDev   = "dev"
	StageLocal = "local"
)

// IsValidStage checks if the provided stage string is one of the defined valid stages.
func IsValidStage(stage string) bool {
	switch stage {
	case StageProd, StageDev, StageLocal:
		return true
	default:
		return false
	}
}

// IsLocalStage reports whether the relay runs against local collaborators
// (plaintext gRPC to the signing network, log-only audit publishing).
func IsLocalStage(stage string) bool {
	return stage == StageLocal
}
