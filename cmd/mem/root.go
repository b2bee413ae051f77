package mem

import (
	"fmt"
	"os"
	"time"

	"github.com/15201047795/outpost-core/cmd/util"
	"github.com/15201047795/outpost-core/lib/heartbeat"
	"github.com/15201047795/outpost-core/lib/topic"
	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/15201047795/outpost-core/rmap/initiator"
	"github.com/15201047795/outpost-core/rmap/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	log = logger.GetLogger("cmd")

	engine     *initiator.Engine
	link       transport.Transport
	liveness   *heartbeat.Monitor
	foreignSub *topic.Subscription[initiator.ForeignFrame]

	// MemoryCommands represents the memory access command group
	MemoryCommands = &cobra.Command{
		Use:                "mem",
		Short:              "Read and write target memory",
		PersistentPreRunE:  setupEngine,
		PersistentPostRunE: teardownEngine,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	util.SetupTransportFlags(MemoryCommands, "localhost:10030")
	util.SetupInitiatorFlags(MemoryCommands)

	key := "metrics"
	MemoryCommands.PersistentFlags().Bool(key, false, util.WrapString("Print the engine counters in Prometheus format and the latency statistics when done"))

	// Add subcommands
	MemoryCommands.AddCommand(readCmd)
	MemoryCommands.AddCommand(writeCmd)
	MemoryCommands.AddCommand(perfTestCmd)
}

// setupEngine connects to the target and starts the initiator engine
func setupEngine(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetInitiatorConfig()
	if err := common.InitLoggers(config.LogLevel); err != nil {
		return err
	}

	registry, err := util.GetRegistry()
	if err != nil {
		return err
	}

	link, err = util.Dial(util.GetTransportConfig())
	if err != nil {
		return err
	}

	liveness = heartbeat.NewMonitor()
	engine, err = initiator.New(config, link,
		initiator.WithRegistry(registry),
		initiator.WithHeartbeat(liveness),
	)
	if err != nil {
		link.Close()
		return err
	}

	foreignSub = initiator.NonRmapPackets.Subscribe()
	go func(sub *topic.Subscription[initiator.ForeignFrame]) {
		for frame := range sub.C() {
			log.Warningf("Foreign frame %s (%d bytes): %v", frame.ID, len(frame.Data), frame.Err)
		}
	}(foreignSub)

	return engine.Start()
}

// teardownEngine stops the engine, closes the link and prints the metrics
func teardownEngine(_ *cobra.Command, _ []string) error {
	if engine == nil {
		return nil
	}

	if stalled := liveness.Stalled(time.Now()); len(stalled) > 0 {
		log.Warningf("Receiver stalled: %v", stalled)
	}

	engine.Stop()
	foreignSub.Close()
	err := link.Close()

	if viper.GetBool("metrics") {
		fmt.Println()
		engine.WritePrometheus(os.Stdout)
		fmt.Println()
		fmt.Print(engine.Stats().String())
	}
	return err
}

// options builds the per request options from the flags of cmd
func options(cmd *cobra.Command, extAddress byte) initiator.Options {
	increment, _ := cmd.Flags().GetBool("increment")
	verify, _ := cmd.Flags().GetBool("verify")
	noReply, _ := cmd.Flags().GetBool("no-reply")
	return initiator.Options{
		Increment:       increment,
		Verify:          verify,
		ReplyRequested:  !noReply,
		ExtendedAddress: extAddress,
	}
}
