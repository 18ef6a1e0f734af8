// File: tgtreq/state.go
// Package tgtreq implements the C9 target request state machine: the
// 13-state DAG a received NVMe command capsule moves through from
// NEW to COMPLETED/FREE, including backpressure parking, DIF
// generate/verify hooks, error-path acceleration, and ABORT handling.
// Grounded on the teacher's state-driven Control/Handler contracts
// (api/handler.go, api/events.go) generalized from a generic payload
// Handler to an explicit per-request DAG.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tgtreq

// State is one node of the target request DAG (§4.7).
type State int

const (
	StateFree State = iota
	StateNew
	StateNeedBuffer
	StateDataXferToCtrlrPending
	StateTransferringHostToController
	StateReadyToExecute
	StateExecuting
	StateExecuted
	StateDataXferToHostPending
	StateReadyToComplete
	StateTransferringControllerToHost
	StateCompleting
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "FREE"
	case StateNew:
		return "NEW"
	case StateNeedBuffer:
		return "NEED_BUFFER"
	case StateDataXferToCtrlrPending:
		return "DATA_XFER_TO_CTRLR_PENDING"
	case StateTransferringHostToController:
		return "TRANSFERRING_HOST_TO_CONTROLLER"
	case StateReadyToExecute:
		return "READY_TO_EXECUTE"
	case StateExecuting:
		return "EXECUTING"
	case StateExecuted:
		return "EXECUTED"
	case StateDataXferToHostPending:
		return "DATA_XFER_TO_HOST_PENDING"
	case StateReadyToComplete:
		return "READY_TO_COMPLETE"
	case StateTransferringControllerToHost:
		return "TRANSFERRING_CONTROLLER_TO_HOST"
	case StateCompleting:
		return "COMPLETING"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}
