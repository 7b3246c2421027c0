package protocol

import "fmt"

type OperationKind string

const (
	KindList    OperationKind = "list"
	KindUpload  OperationKind = "upload"
	KindDelete  OperationKind = "delete"
	KindExecute OperationKind = "execute"
	KindInstall OperationKind = "install"
	KindInfo    OperationKind = "info"
	KindRestart OperationKind = "restart"
)

var kindMessageTypes = map[OperationKind]string{
	KindList:    TypeFileListRequest,
	KindUpload:  TypeFileUpload,
	KindDelete:  TypeFileDelete,
	KindExecute: TypeExecuteCommand,
	KindInstall: TypeInstallPackage,
	KindInfo:    TypeSystemInfoReq,
	KindRestart: TypeRestartAgent,
}

// MessageType returns the outbound message type carrying instructions of this kind.
func (k OperationKind) MessageType() (string, error) {
	t, ok := kindMessageTypes[k]
	if !ok {
		return "", fmt.Errorf("unknown operation kind %q", k)
	}
	return t, nil
}

// OperationRef is embedded in every instruction and result payload.
type OperationRef struct {
	OperationID string `json:"operationId"`
}

func (r *OperationRef) SetOperationID(id string) { r.OperationID = id }

func (r OperationRef) GetOperationID() string { return r.OperationID }

// Instruction is a payload that can be stamped with the operation id
// minted at dispatch time.
type Instruction interface {
	SetOperationID(id string)
}

type FileListRequest struct {
	OperationRef
	Path string `json:"path"`
}

type FileUpload struct {
	OperationRef
	Path     string `json:"path"`
	FileName string `json:"fileName"`
	Content  []byte `json:"content"`
}

type FileDelete struct {
	OperationRef
	Path string `json:"path"`
}

type ExecuteCommand struct {
	OperationRef
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type InstallPackage struct {
	OperationRef
	PackageName string `json:"packageName"`
	PackageURL  string `json:"packageUrl,omitempty"`
	InstallPath string `json:"installPath,omitempty"`
}

type SystemInfoRequest struct {
	OperationRef
}

type RestartAgent struct {
	OperationRef
}
