package engine

import (
	"cmp"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kode4food/conductor/pkg/api"
)

const (
	pathNode      = "node"
	pathTimeout   = "timeout"
	pathDispatch  = "dispatch"
	pathRetry     = "retry"
	pathOrphan    = "orphan"
	idStart       = "start"
	idNext        = "next"
	idRetry       = "retry"
	idChain       = "chain"
	idChainHead   = "head"
	idNamespaceID = "conductor"
)

var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte(idNamespaceID))

// deriveID builds a stable id from a base id and qualifying parts, so that
// replaying a spawn after a crash addresses the same node execution
func deriveID[T ~string, B ~string](base B, parts ...string) T {
	name := strings.Join(append([]string{string(base)}, parts...), "/")
	return T(uuid.NewSHA1(idNamespace, []byte(name)).String())
}

func startNodeID(id api.PlanExecutionID) api.NodeExecutionID {
	return deriveID[api.NodeExecutionID](id, idStart)
}

func nextNodeID(
	prev api.NodeExecutionID, next api.PlanNodeID,
) api.NodeExecutionID {
	return deriveID[api.NodeExecutionID](prev, idNext, string(next))
}

func retryNodeID(failed api.NodeExecutionID) api.NodeExecutionID {
	return deriveID[api.NodeExecutionID](failed, idRetry)
}

func childChainID(parent api.NodeExecutionID, idx int) api.ChainID {
	return deriveID[api.ChainID](parent, idChain, strconv.Itoa(idx))
}

func chainHeadID(chain api.ChainID) api.NodeExecutionID {
	return deriveID[api.NodeExecutionID](chain, idChainHead)
}

func planPath(id api.PlanExecutionID) []string {
	return []string{pathNode, string(id)}
}

func nodePath(ref api.NodeRef) []string {
	return []string{
		pathNode, string(ref.PlanExecutionID), string(ref.NodeExecutionID),
	}
}

func nodeTaskPath(ref api.NodeRef, task string) []string {
	return append(nodePath(ref), task)
}

func orphanPath(id api.CorrelationID) []string {
	return []string{pathOrphan, string(id)}
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
