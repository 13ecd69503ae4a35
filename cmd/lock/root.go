package lock

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/ValentinKolb/dLock/cmd/util"
	"github.com/ValentinKolb/dLock/rpc/client"
	"github.com/spf13/cobra"
)

var (
	lockClient     client.ILockClient
	acquireTimeout uint64
	acquireOwner   string

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:               "lock",
		Short:             "Perform lock operations against a dLock server",
		PersistentPreRunE: setupLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [name]",
		Short: "Acquire a lock",
		Long:  "Acquire the named lock and print the lease ID. The lease ID is needed to release the lock later.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [name] [leaseID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the name and lease ID. The lease ID is the string returned by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}

	// runCmd represents the run command
	runCmd = &cobra.Command{
		Use:   "run [name] -- command [args...]",
		Short: "Run a command while holding a lock",
		Long:  "Acquire the named lock, run the given command, and release the lock when the command exits.",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runWithLock,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add subcommands to lock command
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)
	LockCommands.AddCommand(runCmd)

	// Add common RPC flags to the lock command
	util.SetupRPCClientFlags(LockCommands)

	// Set default shard ID for lock operations
	LockCommands.PersistentFlags().Int("shard", 100, util.WrapString("ID of the shard to connect to"))

	// Add flags shared by acquire and run
	for _, cmd := range []*cobra.Command{acquireCmd, runCmd} {
		cmd.Flags().Uint64Var(&acquireTimeout, "timeout-acquire", 30, "Acquisition timeout in seconds (0 = try once)")
		cmd.Flags().StringVar(&acquireOwner, "owner", "", "Owner tag shown in server diagnostics (defaults to the hostname)")
	}
}

// setupLockClient initializes the lock client
func setupLockClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration components
	config := util.GetClientConfig()
	shardId := util.GetShardID()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the lock client
	lockClient, err = client.NewRPCLockClient(
		shardId,
		*config,
		t,
		s,
	)

	return err
}

// ownerTag resolves the owner tag for acquire operations
func ownerTag() string {
	if acquireOwner != "" {
		return acquireOwner
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "dlock-cli"
	}
	return hostname
}

// runAcquire handles the acquire lock command
func runAcquire(_ *cobra.Command, args []string) error {
	name := args[0]

	// Attempt to acquire the lock
	leaseID, err := lockClient.AcquireLock(name, ownerTag(), acquireTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %v", err)
	}

	fmt.Printf("acquired=true, leaseId=%s\n", leaseID)

	return nil
}

// runRelease handles the release lock command
func runRelease(_ *cobra.Command, args []string) error {
	name := args[0]
	leaseID := args[1]

	// Attempt to release the lock
	released, err := lockClient.ReleaseLock(name, leaseID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %v", err)
	}

	fmt.Printf("released=%v\n", released)

	return nil
}

// runWithLock acquires the lock, runs the command, and releases on exit
func runWithLock(_ *cobra.Command, args []string) error {
	name := args[0]

	leaseID, err := lockClient.AcquireLock(name, ownerTag(), acquireTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %v", err)
	}

	// Release no matter how the command exits
	defer func() {
		if _, err := lockClient.ReleaseLock(name, leaseID); err != nil {
			fmt.Fprintf(os.Stderr, "failed to release lock: %v\n", err)
		}
	}()

	shellCmd := exec.Command(args[1], args[2:]...)
	shellCmd.Stdin = os.Stdin
	shellCmd.Stdout = os.Stdout
	shellCmd.Stderr = os.Stderr

	return shellCmd.Run()
}
