package target

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	cmdUtil "github.com/15201047795/outpost-core/cmd/util"
	"github.com/15201047795/outpost-core/lib/simtarget"
	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/15201047795/outpost-core/rmap/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	log = logger.GetLogger("cmd")

	targetCmdConfig = common.TargetConfig{}
	TargetCmd       = &cobra.Command{
		Use:     "target",
		Short:   "Run a simulated RMAP target",
		Long:    `Run a simulated RMAP target node with sparse memory. Every accepted connection is served until the peer closes it. The configuration can be set via command line flags or environment variables. The format of the environment variables is RMAP_<flag> (e.g. RMAP_LA=66)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cmdUtil.SetupTransportFlags(TargetCmd, "0.0.0.0:10030")

	key := "la"
	TargetCmd.PersistentFlags().Uint8(key, 0xFE, cmdUtil.WrapString("Logical address the target answers to"))

	key = "key"
	TargetCmd.PersistentFlags().Uint8(key, 0, cmdUtil.WrapString("Key every command must carry"))

	key = "memory-size"
	TargetCmd.PersistentFlags().Uint64(key, 1<<20, cmdUtil.WrapString("Size of the addressable memory in bytes (0 for the full 40 bit address space)"))

	key = "max-data-length"
	TargetCmd.PersistentFlags().Int(key, common.DefaultMaxTransferSize, cmdUtil.WrapString("Largest data length of a single command"))

	key = "receive-timeout"
	TargetCmd.PersistentFlags().Duration(key, common.DefaultReceiveTimeout, cmdUtil.WrapString("Timeout of a single receive call of the serving loop"))

	key = "reply-delay"
	TargetCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("Postpone every reply (for timeout tests)"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	targetCmdConfig.LogicalAddress = byte(viper.GetUint("la"))
	targetCmdConfig.Key = byte(viper.GetUint("key"))
	targetCmdConfig.MemorySize = viper.GetUint64("memory-size")
	targetCmdConfig.MaxDataLength = viper.GetInt("max-data-length")
	targetCmdConfig.ReceiveTimeout = viper.GetDuration("receive-timeout")

	return targetCmdConfig.Validate()
}

// run serves the simulated target until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	t, err := simtarget.New(targetCmdConfig)
	if err != nil {
		return err
	}
	if delay := viper.GetDuration("reply-delay"); delay > 0 {
		t.SetFaults(simtarget.Faults{Delay: delay})
	}

	transportConfig := cmdUtil.GetTransportConfig()
	listener, err := cmdUtil.Listen(transportConfig)
	if err != nil {
		return err
	}

	fmt.Print(targetCmdConfig.String())
	fmt.Print(transportConfig.String())

	var (
		mu    sync.Mutex
		conns []transport.Transport
	)

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		<-signals

		log.Infof("Shutting down target")
		listener.Close()

		mu.Lock()
		for _, tr := range conns {
			tr.Close()
		}
		mu.Unlock()
	}()

	err = listener.Serve(func(tr transport.Transport) {
		mu.Lock()
		conns = append(conns, tr)
		mu.Unlock()

		if err := <-t.Go(tr); err != nil {
			log.Errorf("Serving connection failed: %v", err)
		}
		tr.Close()
	})

	t.Close()
	stats := t.Stats()
	log.Infof("Target processed %d commands, sent %d replies, discarded %d frames",
		stats.Commands, stats.Replies, stats.Discarded)
	return err
}
