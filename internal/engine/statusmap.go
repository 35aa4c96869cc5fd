package engine

import "github.com/weave-sync/weave/internal/syncstatus"

// The wire vocabulary for remote-state substates (spec.md §6) is a
// small fixed set of strings shared by broadcast.RemoteStateMessage
// and remote.RemoteStateSubstate; these helpers translate it into the
// typed syncstatus enums non-leaders adopt from the leader's broadcast.

func remoteConnectFromString(s string) syncstatus.RemoteConnect {
	switch s {
	case "connecting":
		return syncstatus.RemoteConnectConnecting
	case "online":
		return syncstatus.RemoteConnectOnline
	case "error":
		return syncstatus.RemoteConnectError
	default:
		return syncstatus.RemoteConnectOffline
	}
}

func remoteReadFromString(s string) syncstatus.RemoteRead {
	switch s {
	case "loading":
		return syncstatus.RemoteReadLoading
	case "ready":
		return syncstatus.RemoteReadReady
	case "error":
		return syncstatus.RemoteReadError
	default:
		return syncstatus.RemoteReadOffline
	}
}

func remoteSaveFromString(s string) syncstatus.RemoteSave {
	switch s {
	case "pending":
		return syncstatus.RemoteSavePending
	case "saving":
		return syncstatus.RemoteSaveSaving
	case "error":
		return syncstatus.RemoteSaveError
	default:
		return syncstatus.RemoteSaveReady
	}
}
