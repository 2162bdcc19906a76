// Command agentzoo trains a reinforcement-learning agent on one of the
// built-in environments, alternating exploration and update phases and
// writing metrics to a run database.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentzoo/agentzoo/agent"
	"github.com/agentzoo/agentzoo/agent/ddpg"
	"github.com/agentzoo/agentzoo/agent/dqn"
	"github.com/agentzoo/agentzoo/agent/mpo"
	"github.com/agentzoo/agentzoo/agent/ppo"
	"github.com/agentzoo/agentzoo/agent/sac"
	"github.com/agentzoo/agentzoo/agent/td3"
	"github.com/agentzoo/agentzoo/environment"
	"github.com/agentzoo/agentzoo/environment/bandit"
	"github.com/agentzoo/agentzoo/environment/cartpole"
	"github.com/agentzoo/agentzoo/experiment"
	"github.com/agentzoo/agentzoo/expreplay"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentzoo",
		Short: "Train reinforcement-learning agents",
	}
	root.AddCommand(trainCmd())
	return root
}

func trainCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run explore/update cycles for one agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(v)
		},
	}

	flags := cmd.Flags()
	flags.String("algorithm", "modsac",
		"dqn, duelingdqn, doubledqn, d3qn, ddpg, td3, sac, modsac, ppo or mpo")
	flags.String("env", "", "cartpole or bandit (defaults per algorithm)")
	flags.Int("cycles", 100, "explore/update cycles to run")
	flags.Int("target-step", 1024, "environment steps per cycle")
	flags.Int("batch-size", 256, "transitions per gradient step")
	flags.Float64("repeat", 1.0, "gradient steps per environment step")
	flags.Float64("gamma", 0.99, "discount factor")
	flags.Float64("reward-scale", 1.0, "reward multiplier")
	flags.Int("buffer-size", 1<<17, "replay capacity")
	flags.Bool("per", false, "prioritized replay")
	flags.Uint64("seed", 1, "random seed")
	flags.String("db", "runs.db", "run database path")
	flags.String("checkpoint", "", "checkpoint directory (empty disables)")
	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("AGENTZOO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cmd
}

func runTrain(v *viper.Viper) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	algorithm := v.GetString("algorithm")
	seed := v.GetUint64("seed")

	env, envName, err := buildEnv(v.GetString("env"), algorithm,
		v.GetInt("target-step"), seed)
	if err != nil {
		return err
	}

	ag, actionStore, err := buildAgent(algorithm, env, v, seed)
	if err != nil {
		return err
	}

	var buf expreplay.Buffer
	if v.GetBool("per") {
		buf, err = expreplay.NewPrioritized(v.GetInt("buffer-size"),
			env.ObservationDim(), actionStore, seed+7)
	} else {
		buf, err = expreplay.NewUniform(v.GetInt("buffer-size"),
			env.ObservationDim(), actionStore, seed+7)
	}
	if err != nil {
		return err
	}

	tracker, err := experiment.Open(v.GetString("db"), algorithm,
		envName, log)
	if err != nil {
		return err
	}
	defer tracker.Close()

	checkpoint := v.GetString("checkpoint")
	if checkpoint != "" {
		if err := ag.Load(checkpoint); err != nil {
			return err
		}
	}

	targetStep := v.GetInt("target-step")
	onPolicy := algorithm == "ppo"
	for cycle := 0; cycle < v.GetInt("cycles"); cycle++ {
		if _, err := ag.ExploreEnv(env, buf, targetStep,
			v.GetFloat64("reward-scale"),
			v.GetFloat64("gamma")); err != nil {
			return err
		}

		record, err := ag.UpdateNet(buf, targetStep,
			v.GetInt("batch-size"), v.GetFloat64("repeat"))
		if err != nil {
			return err
		}
		if onPolicy {
			buf.Clear()
		}

		if err := tracker.LogRecord((cycle+1)*targetStep,
			record); err != nil {
			return err
		}
		if checkpoint != "" {
			if err := ag.Save(checkpoint); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildEnv returns the environment, its registered name and an error.
// Discrete algorithms default to cartpole, continuous ones to the
// bandit.
func buildEnv(name, algorithm string, maxSteps int,
	seed uint64) (environment.Environment, string, error) {
	if name == "" {
		if discrete(algorithm) {
			name = "cartpole"
		} else {
			name = "bandit"
		}
	}
	switch name {
	case "cartpole":
		return cartpole.New(maxSteps, seed+3), name, nil
	case "bandit":
		env, err := bandit.New(4, []float64{0.5, -0.5})
		return env, name, err
	default:
		return nil, "", fmt.Errorf("unknown environment %q", name)
	}
}

func discrete(algorithm string) bool {
	switch algorithm {
	case "dqn", "duelingdqn", "doubledqn", "d3qn":
		return true
	}
	return false
}

// buildAgent constructs the requested agent against the environment's
// dimensions. The second return value is the per-transition action
// width the replay buffer must store: one slot for a discrete index,
// the action dimension otherwise.
func buildAgent(algorithm string, env environment.Environment,
	v *viper.Viper, seed uint64) (agent.Agent, int, error) {
	stateDim := env.ObservationDim()
	actionDim := env.ActionDim()
	usePER := v.GetBool("per")

	switch algorithm {
	case "dqn", "duelingdqn", "doubledqn", "d3qn":
		variant := map[string]dqn.Variant{
			"dqn":        dqn.Plain,
			"duelingdqn": dqn.Dueling,
			"doubledqn":  dqn.Double,
			"d3qn":       dqn.D3,
		}[algorithm]
		ag, err := dqn.New(stateDim, actionDim,
			dqn.Config{Variant: variant, UsePER: usePER}, seed)
		return ag, 1, err
	case "ddpg":
		ag, err := ddpg.New(stateDim, actionDim,
			ddpg.Config{UsePER: usePER}, seed)
		return ag, actionDim, err
	case "td3":
		ag, err := td3.New(stateDim, actionDim,
			td3.Config{UsePER: usePER}, seed)
		return ag, actionDim, err
	case "sac":
		ag, err := sac.New(stateDim, actionDim,
			sac.Config{Variant: sac.Standard, UsePER: usePER}, seed)
		return ag, actionDim, err
	case "modsac":
		ag, err := sac.New(stateDim, actionDim,
			sac.Config{Variant: sac.Modified, UsePER: usePER}, seed)
		return ag, actionDim, err
	case "ppo":
		ag, err := ppo.New(stateDim, actionDim,
			ppo.Config{UsePER: usePER}, seed)
		return ag, actionDim, err
	case "mpo":
		ag, err := mpo.New(stateDim, actionDim,
			mpo.Config{UsePER: usePER}, seed)
		return ag, actionDim, err
	default:
		return nil, 0, fmt.Errorf("unknown algorithm %q", algorithm)
	}
}
