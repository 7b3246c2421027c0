package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/EternisAI/silo-portal/internal/sandbox"
)

var instructionTypes = map[string]bool{
	protocol.TypeFileListRequest: true,
	protocol.TypeFileUpload:      true,
	protocol.TypeFileDelete:      true,
	protocol.TypeExecuteCommand:  true,
	protocol.TypeInstallPackage:  true,
	protocol.TypeSystemInfoReq:   true,
	protocol.TypeRestartAgent:    true,
}

func IsInstruction(msgType string) bool {
	return instructionTypes[msgType]
}

// RequestHandler passes every instruction through the sandbox and builds
// exactly one reply for it.
type RequestHandler struct {
	sandbox *sandbox.Sandbox
}

func NewRequestHandler(sb *sandbox.Sandbox) *RequestHandler {
	return &RequestHandler{sandbox: sb}
}

// HandleInstruction returns the reply envelope and whether the agent must
// shut down once the reply is sent.
func (rh *RequestHandler) HandleInstruction(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, bool) {
	slog.Info("Instruction received", "type", env.Type, "request_id", env.RequestID)

	switch env.Type {
	case protocol.TypeFileListRequest:
		var req protocol.FileListRequest
		if err := env.Decode(&req); err != nil {
			return rh.listError(env, "", err), false
		}
		opID := operationID(req.OperationRef, env)
		resolved, files, err := rh.sandbox.List(req.Path)
		if err != nil {
			return rh.listError(env, opID, err), false
		}
		return rh.reply(env, protocol.TypeFileListResponse, protocol.FileListResponse{
			OperationRef: protocol.OperationRef{OperationID: opID},
			Path:         resolved,
			Files:        files,
		}), false

	case protocol.TypeSystemInfoReq:
		var req protocol.SystemInfoRequest
		_ = env.Decode(&req)
		opID := operationID(req.OperationRef, env)
		info, err := rh.sandbox.SystemInfo(ctx)
		if err != nil {
			return rh.reply(env, protocol.TypeSystemInfoError, protocol.OperationError{
				OperationRef: protocol.OperationRef{OperationID: opID},
				Error:        sandbox.ErrorMessage(err),
			}), false
		}
		return rh.reply(env, protocol.TypeSystemInfoResp, protocol.SystemInfoResponse{
			OperationRef: protocol.OperationRef{OperationID: opID},
			Info:         info,
		}), false

	case protocol.TypeFileUpload:
		var req protocol.FileUpload
		if err := env.Decode(&req); err != nil {
			return rh.failed(env, "", err), false
		}
		opID := operationID(req.OperationRef, env)
		target, err := rh.sandbox.Upload(req.Path, req.FileName, req.Content)
		if err != nil {
			return rh.failed(env, opID, err), false
		}
		return rh.completed(env, opID, fmt.Sprintf("File uploaded to %s", target), ""), false

	case protocol.TypeFileDelete:
		var req protocol.FileDelete
		if err := env.Decode(&req); err != nil {
			return rh.failed(env, "", err), false
		}
		opID := operationID(req.OperationRef, env)
		resolved, err := rh.sandbox.Delete(req.Path)
		if err != nil {
			return rh.failed(env, opID, err), false
		}
		return rh.completed(env, opID, fmt.Sprintf("Deleted %s", resolved), ""), false

	case protocol.TypeExecuteCommand:
		var req protocol.ExecuteCommand
		if err := env.Decode(&req); err != nil {
			return rh.failed(env, "", err), false
		}
		opID := operationID(req.OperationRef, env)
		output, err := rh.sandbox.Execute(ctx, req.Command, req.Args)
		if err != nil {
			reply := protocol.OperationResult{
				OperationRef: protocol.OperationRef{OperationID: opID},
				Status:       protocol.ResultFailed,
				Output:       output,
				Error:        sandbox.ErrorMessage(err),
			}
			return rh.reply(env, protocol.TypeOperationResult, reply), false
		}
		return rh.completed(env, opID, "Command executed", output), false

	case protocol.TypeInstallPackage:
		var req protocol.InstallPackage
		if err := env.Decode(&req); err != nil {
			return rh.failed(env, "", err), false
		}
		opID := operationID(req.OperationRef, env)
		message, err := rh.sandbox.Install(ctx, req)
		if err != nil {
			return rh.failed(env, opID, err), false
		}
		return rh.completed(env, opID, message, ""), false

	case protocol.TypeRestartAgent:
		var req protocol.RestartAgent
		_ = env.Decode(&req)
		opID := operationID(req.OperationRef, env)
		slog.Warn("Restart requested by portal", "operation_id", opID)
		return rh.completed(env, opID, "Agent restarting", ""), true

	default:
		return nil, false
	}
}

func (rh *RequestHandler) completed(env *protocol.Envelope, opID, message, output string) *protocol.Envelope {
	return rh.reply(env, protocol.TypeOperationResult, protocol.OperationResult{
		OperationRef: protocol.OperationRef{OperationID: opID},
		Status:       protocol.ResultCompleted,
		Message:      message,
		Output:       output,
	})
}

func (rh *RequestHandler) failed(env *protocol.Envelope, opID string, err error) *protocol.Envelope {
	if opID == "" {
		opID = env.RequestID
	}
	slog.Warn("Instruction failed", "type", env.Type, "operation_id", opID, "error", err)
	return rh.reply(env, protocol.TypeOperationResult, protocol.OperationResult{
		OperationRef: protocol.OperationRef{OperationID: opID},
		Status:       protocol.ResultFailed,
		Error:        sandbox.ErrorMessage(err),
	})
}

func (rh *RequestHandler) listError(env *protocol.Envelope, opID string, err error) *protocol.Envelope {
	if opID == "" {
		opID = env.RequestID
	}
	slog.Warn("File listing failed", "operation_id", opID, "error", err)
	return rh.reply(env, protocol.TypeFileListError, protocol.OperationError{
		OperationRef: protocol.OperationRef{OperationID: opID},
		Error:        sandbox.ErrorMessage(err),
	})
}

func (rh *RequestHandler) reply(env *protocol.Envelope, msgType string, payload any) *protocol.Envelope {
	out, err := protocol.NewEnvelope(msgType, payload, env.RequestID)
	if err != nil {
		slog.Error("Failed to build reply", "type", msgType, "error", err)
		return nil
	}
	return out
}

func operationID(ref protocol.OperationRef, env *protocol.Envelope) string {
	if ref.OperationID != "" {
		return ref.OperationID
	}
	return env.RequestID
}
