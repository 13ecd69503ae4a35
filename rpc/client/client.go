package client

import (
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ILockClient is the client-side view of a remote lock shard. Granted
// locks are identified by lease IDs; the server holds the actual lock on
// the client's behalf until the lease is released (or the server's lease
// hold limit lapses).
//
// Remote acquisitions are never re-entrant with each other: every call is
// its own logical flow. Re-entrancy is a feature of the in-process
// lib/lock API.
type ILockClient interface {
	// AcquireLock acquires the named lock, waiting up to timeoutSec
	// seconds (0 = try-once). On success it returns the lease ID needed
	// to release. Contention past the timeout is reported as an error.
	AcquireLock(name, owner string, timeoutSec uint64) (leaseID string, err error)

	// TryAcquireLock behaves like AcquireLock but reports contention via
	// the boolean return value instead of an error.
	TryAcquireLock(name, owner string, timeoutSec uint64) (ok bool, leaseID string, err error)

	// ReleaseLock releases a previously acquired lease. The boolean
	// return value reports whether the server still knew the lease.
	ReleaseLock(name, leaseID string) (ok bool, err error)

	// Close shuts down the underlying transport.
	Close() error
}

// --------------------------------------------------------------------------
// Factory Method
// --------------------------------------------------------------------------

// NewRPCLockClient creates a new RPC lock client
// The function takes a shard ID, a config, a transport and a serializer as parameters
// It returns an ILockClient and an error
func NewRPCLockClient(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (ILockClient, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	// Create a new RPC lock client
	c := rpcLockClient{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}

	// Return the client
	return &c, nil
}

type rpcLockClient struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see ILockClient)
// --------------------------------------------------------------------------

func (c *rpcLockClient) AcquireLock(name, owner string, timeoutSec uint64) (string, error) {
	req := common.NewAcquireRequest(name, owner, timeoutSec)
	resp, err := invokeRPCRequest(c.shardId, req, c.transport, c.serializer)
	if err != nil {
		return "", err
	}
	return resp.LeaseID, nil
}

func (c *rpcLockClient) TryAcquireLock(name, owner string, timeoutSec uint64) (bool, string, error) {
	req := common.NewTryAcquireRequest(name, owner, timeoutSec)
	resp, err := invokeRPCRequest(c.shardId, req, c.transport, c.serializer)
	if err != nil {
		return false, "", err
	}
	return resp.Ok, resp.LeaseID, nil
}

func (c *rpcLockClient) ReleaseLock(name, leaseID string) (bool, error) {
	req := common.NewReleaseRequest(name, leaseID)
	resp, err := invokeRPCRequest(c.shardId, req, c.transport, c.serializer)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (c *rpcLockClient) Close() error {
	return c.transport.Close()
}
