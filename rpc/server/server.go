package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/ValentinKolb/dLock/lib/provider"
	"github.com/ValentinKolb/dLock/lib/provider/fs"
	"github.com/ValentinKolb/dLock/lib/provider/memory"
	redisprovider "github.com/ValentinKolb/dLock/lib/provider/redis"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the lock manager it encapsulates and the adapter
// that handles requests for it
type serverShard struct {
	Manager *lock.Manager
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) rpcServer {
	// Create shards map
	shardMap := xsync.NewMapOf[uint64, serverShard]()

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	// Create the RPC server
	return rpcServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     shardMap,
	}
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
}

func (s *rpcServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg common.Message

		// Get appropriate shard
		shard, ok := s.shards.Load(shardId)

		// Case shard does not exist -> error
		if !ok {
			respMsg = common.Message{
				MsgType: common.MsgTError,
				Err:     "shard not found",
			}
		} else {
			// Decode the request
			err := s.serializer.Deserialize(req, &msg)

			if err != nil {
				respMsg = common.Message{
					MsgType: common.MsgTError,
					Err:     fmt.Sprintf("failed to deserialize request: %s", err),
				}
			} else {
				// Let the adapter handle the request
				respMsg = *shard.Adapter.Handle(&msg, shard.Manager)
			}
		}

		// Return result
		val, err := s.serializer.Serialize(respMsg)
		if err != nil {
			respMsg = common.Message{
				MsgType: common.MsgTError,
				Err:     fmt.Sprintf("failed to serialize response: %s", err),
			}
			val, _ = s.serializer.Serialize(respMsg)
		}
		return val
	})
}

func (s *rpcServer) init() error {

	// Init logger
	common.InitLoggers(s.config.LogLevel)

	// Configure the lease hold limit
	maxHold := time.Duration(s.config.LeaseMaxHoldSec) * time.Second

	// CREATE SHARDS

	/*
		Note: A single RPC Server can have any number of shards, each with
		its own lock provider. Clients address a shard by its ID, so one
		server can expose e.g. a host-local flock facility and a
		redis-backed one side by side. The following loop creates all the
		shards and stores them for the RPC server.
	*/

	for _, shardConfig := range s.config.Shards {
		p, err := providerFromSpec(shardConfig.Provider)
		if err != nil {
			return fmt.Errorf("shard %d: %w", shardConfig.ShardID, err)
		}

		s.shards.Store(shardConfig.ShardID, serverShard{
			Manager: lock.NewLockManager(p),
			Adapter: NewLockServerAdapter(maxHold),
		})
		Logger.Infof("created %s lock manager for shard %d", p.Name(), shardConfig.ShardID)
	}

	Logger.Infof("dLock setup completed successfully")

	// Start the metrics listener
	if s.config.MetricsEndpoint != "" {
		go serveMetrics(s.config.MetricsEndpoint)
	}

	// Configure the transport layer
	s.registerTransportHandler()

	return nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards and start the transport layer
func (s *rpcServer) Serve() error {
	err := s.init()
	if err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// providerFromSpec creates a lock provider from its spec string. Supported
// specs: "memory", "fs(<dir>)", "redis(<host:port>)".
func providerFromSpec(spec string) (provider.ILockProvider, error) {
	name, arg := spec, ""
	if i := strings.IndexByte(spec, '('); i >= 0 && strings.HasSuffix(spec, ")") {
		name = spec[:i]
		arg = spec[i+1 : len(spec)-1]
	}

	switch name {
	case "memory":
		return memory.NewMemoryProvider(), nil
	case "fs":
		if arg == "" {
			return nil, fmt.Errorf("fs provider needs a directory: fs(/some/dir)")
		}
		return fs.NewFSLockProvider(arg)
	case "redis":
		if arg == "" {
			return nil, fmt.Errorf("redis provider needs an address: redis(host:port)")
		}
		client := redis.NewClient(&redis.Options{Addr: arg})
		return redisprovider.NewRedisLockProvider(client), nil
	default:
		return nil, fmt.Errorf("invalid provider spec: %s (expected one of: memory, fs(dir), redis(addr))", spec)
	}
}

// serveMetrics exposes the collected metrics in Prometheus text format.
func serveMetrics(endpoint string) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	Logger.Infof("Starting metrics server on %s", endpoint)
	if err := http.ListenAndServe(endpoint, mux); err != nil {
		Logger.Errorf("metrics server failed: %v", err)
	}
}
