package webshare

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/bcnelson/ipauth-sync/internal/domain"
	"github.com/cyclopcam/logs"
)

// FileShim is a testing implementation that keeps the allow-list in a JSON file.
// It also answers whatsmyip from the same file so a full dry run needs no network.
type FileShim struct {
	filePath string
	mu       sync.Mutex
	log      logs.Log
}

// Ensure FileShim implements AuthorizationClient.
var _ AuthorizationClient = (*FileShim)(nil)

type shimState struct {
	IPAddress string              `json:"ip_address,omitempty"`
	NextID    int64               `json:"next_id"`
	Results   []authorizationJSON `json:"results"`
}

// NewFileShim creates a new file-based shim for testing.
func NewFileShim(filePath string, logger logs.Log) *FileShim {
	return &FileShim{filePath: filePath, log: logger}
}

// List returns the records stored in the file.
func (f *FileShim) List(ctx context.Context) (domain.AuthorizationList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.read()
	if err != nil {
		return nil, err
	}
	list := make(domain.AuthorizationList, 0, len(state.Results))
	for _, r := range state.Results {
		list = append(list, domain.Authorization{ID: string(r.ID), Address: domain.NormalizeAddress(r.IPAddress)})
	}
	return list, nil
}

// Create appends a record with the next sequential id.
func (f *FileShim) Create(ctx context.Context, addr domain.Address) (*domain.Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.read()
	if err != nil {
		return nil, err
	}
	if state.NextID < 1 {
		state.NextID = 1
	}
	id := strconv.FormatInt(state.NextID, 10)
	state.NextID++
	state.Results = append(state.Results, authorizationJSON{ID: authorizationID(id), IPAddress: string(addr)})

	if err := f.write(state); err != nil {
		return nil, err
	}
	f.log.Infof("[FileShim] Authorized %v as %v", addr, id)
	return &domain.Authorization{ID: id, Address: addr}, nil
}

// Delete removes the record with the given id. Unknown ids fail like a 404 would.
func (f *FileShim) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.read()
	if err != nil {
		return err
	}
	for i, r := range state.Results {
		if string(r.ID) == id {
			state.Results = append(state.Results[:i], state.Results[i+1:]...)
			if err := f.write(state); err != nil {
				return err
			}
			f.log.Infof("[FileShim] Revoked %v", id)
			return nil
		}
	}
	return &domain.GatewayError{
		Op:         "delete authorization",
		StatusCode: 404,
		Err:        fmt.Errorf("%w: authorization %s not found", domain.ErrGatewayApplication, id),
	}
}

// WhatsMyIP returns the address recorded in the file.
func (f *FileShim) WhatsMyIP(ctx context.Context) (domain.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.read()
	if err != nil {
		return "", err
	}
	if state.IPAddress == "" {
		return "", fmt.Errorf("%w: shim file has no ip_address", domain.ErrGatewayApplication)
	}
	return domain.NormalizeAddress(state.IPAddress), nil
}

func (f *FileShim) read() (*shimState, error) {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file is an empty allow-list
			return &shimState{NextID: 1}, nil
		}
		return nil, fmt.Errorf("%w: reading shim file: %v", domain.ErrGatewayTransport, err)
	}

	var state shimState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: parsing shim file: %v", domain.ErrGatewayApplication, err)
	}
	return &state, nil
}

func (f *FileShim) write(state *shimState) error {
	// Marshal with indentation for readability
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling shim state: %w", err)
	}
	if err := os.WriteFile(f.filePath, data, 0644); err != nil {
		return fmt.Errorf("%w: writing shim file: %v", domain.ErrGatewayTransport, err)
	}
	return nil
}
