package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"gopkg.in/yaml.v3"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/config"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/smartaccount"
)

type command struct {
	summary string
	run     func(args []string, stdout, stderr io.Writer) int
}

var commandOrder = []string{
	"init-db", "derive", "fund", "init-program", "create-settings", "show",
	"propose", "activate", "approve", "reject", "cancel",
	"execute", "close", "proposal",
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"init-db":         {"Create the account schema of the configured store", runInitDB},
		"derive":          {"Print derived addresses", runDerive},
		"fund":            {"Credit lamports to a key in the local ledger", runFund},
		"init-program":    {"Create the program config from a profile", runInitProgram},
		"create-settings": {"Create a smart account from a signer file", runCreateSettings},
		"show":            {"Print a settings record", runShow},
		"propose":         {"Propose a vault transfer and open its vote", runPropose},
		"activate":        {"Activate a draft proposal", voteCmd("activate")},
		"approve":         {"Approve a proposal", voteCmd("approve")},
		"reject":          {"Reject a proposal", voteCmd("reject")},
		"cancel":          {"Cancel an approved proposal", voteCmd("cancel")},
		"execute":         {"Execute an approved transaction", runExecute},
		"close":           {"Close a finished transaction and refund rent", runClose},
		"proposal":        {"Print a proposal", runShowProposal},
	}
}

// exitCode prints err and maps it to the process exit code:
//
//	0 = applied
//	1 = rejected by the engine
//	2 = usage or runtime error
func exitCode(stderr io.Writer, err error) int {
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	var ge *errs.Error
	if errors.As(err, &ge) {
		return 1
	}
	return 2
}

// withEngine opens the runtime, runs fn and releases the runtime.
func withEngine(stderr io.Writer, fn func(ctx context.Context, e *smartaccount.Engine) error, initializers ...solana.PublicKey) int {
	ctx := context.Background()
	rt, err := openRuntime(ctx, stderr, initializers...)
	if err != nil {
		return exitCode(stderr, err)
	}
	defer rt.Close(ctx)
	return exitCode(stderr, fn(ctx, rt.engine))
}

// keyFlag is a flag.Value holding a base58 public key.
type keyFlag struct {
	key solana.PublicKey
	set bool
}

func (k *keyFlag) String() string {
	if !k.set {
		return ""
	}
	return k.key.String()
}

func (k *keyFlag) Set(s string) error {
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return err
	}
	k.key, k.set = key, true
	return nil
}

func required(stderr io.Writer, fs *flag.FlagSet, keys map[string]*keyFlag) bool {
	for name, k := range keys {
		if !k.set {
			_, _ = fmt.Fprintf(stderr, "Error: --%s is required\n", name)
			fs.Usage()
			return false
		}
	}
	return true
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runInitDB(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init-db", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return exitCode(stderr, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err))
	}
	defer func() { _ = backend.Close() }()
	if p, ok := backend.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return exitCode(stderr, err)
		}
	}
	_, _ = fmt.Fprintf(stdout, "%s store ready\n", cfg.StoreBackend)
	return 0
}

func runDerive(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("derive", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var settingsKey keyFlag
	seed := fs.Int64("seed", -1, "Settings seed")
	fs.Var(&settingsKey, "settings", "Settings address")
	accountIndex := fs.Uint("account-index", 0, "Vault index")
	index := fs.Uint64("index", 0, "Transaction index")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *seed < 0 && !settingsKey.set {
		_, _ = fmt.Fprintln(stderr, "Error: --seed or --settings is required")
		return 2
	}
	if *accountIndex > 255 {
		_, _ = fmt.Fprintln(stderr, "Error: --account-index must fit in a byte")
		return 2
	}

	cfg := config.Load()
	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return exitCode(stderr, fmt.Errorf("program id %q: %w", cfg.ProgramID, err))
	}
	d := authority.New(programID)

	out := map[string]string{}
	add := func(name string, derived authority.Derived, err error) error {
		if err != nil {
			return err
		}
		out[name] = derived.Address.String()
		return nil
	}

	key := settingsKey.key
	if *seed >= 0 {
		s, err := d.Settings(authority.U128From(uint64(*seed)))
		if err != nil {
			return exitCode(stderr, err)
		}
		out["settings"] = s.Address.String()
		if !settingsKey.set {
			key = s.Address
		}
	}
	vault, err := d.SmartAccount(key, uint8(*accountIndex))
	if err := add("vault", vault, err); err != nil {
		return exitCode(stderr, err)
	}
	if *index > 0 {
		tx, err := d.Transaction(key, *index)
		if err := add("transaction", tx, err); err != nil {
			return exitCode(stderr, err)
		}
		prop, err := d.Proposal(key, *index)
		if err := add("proposal", prop, err); err != nil {
			return exitCode(stderr, err)
		}
	}
	return exitCode(stderr, writeJSON(stdout, out))
}

func runFund(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fund", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var key keyFlag
	fs.Var(&key, "key", "Key to credit (REQUIRED)")
	lamports := fs.Uint64("lamports", 0, "Amount to credit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !required(stderr, fs, map[string]*keyFlag{"key": &key}) {
		return 2
	}

	ctx := context.Background()
	rt, err := openRuntime(ctx, stderr)
	if err != nil {
		return exitCode(stderr, err)
	}
	defer rt.Close(ctx)
	if err := rt.store.Fund(ctx, key.key, *lamports); err != nil {
		return exitCode(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "%s +%d\n", key.key, *lamports)
	return 0
}

func runInitProgram(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init-program", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var initializer keyFlag
	profilePath := fs.String("profile", "", "Program profile YAML (REQUIRED)")
	fs.Var(&initializer, "initializer", "Initializer paying the rent (REQUIRED)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *profilePath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --profile is required")
		return 2
	}
	if !required(stderr, fs, map[string]*keyFlag{"initializer": &initializer}) {
		return 2
	}

	profile, err := config.LoadProgramProfile(*profilePath)
	if err != nil {
		return exitCode(stderr, err)
	}
	allowed, _ := profile.InitializerKeys()
	treasury, _ := profile.TreasuryKey()
	auth, _ := profile.AuthorityKey()

	return withEngine(stderr, func(ctx context.Context, e *smartaccount.Engine) error {
		if err := e.InitializeProgramConfig(ctx, smartaccount.InitializeProgramConfigRequest{
			Initializer:             initializer.key,
			Authority:               auth,
			SmartAccountCreationFee: profile.CreationFee,
			Treasury:                treasury,
		}); err != nil {
			return err
		}
		key, err := e.ProgramConfigKey()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "program config %s (%s)\n", key, profile.Name)
		return nil
	}, allowed...)
}

// settingsFile is the YAML layout read by create-settings.
type settingsFile struct {
	Threshold uint16 `yaml:"threshold"`
	TimeLock  uint32 `yaml:"time_lock"`
	Authority string `yaml:"authority"`
	Signers   []struct {
		Key         string `yaml:"key"`
		Permissions string `yaml:"permissions"`
	} `yaml:"signers"`
}

func (f *settingsFile) signers() ([]signers.Signer, error) {
	out := make([]signers.Signer, 0, len(f.Signers))
	for _, s := range f.Signers {
		key, err := solana.PublicKeyFromBase58(s.Key)
		if err != nil {
			return nil, fmt.Errorf("signer %q: %w", s.Key, err)
		}
		perms, err := signers.ParsePermissions(s.Permissions)
		if err != nil {
			return nil, err
		}
		out = append(out, signers.Signer{Key: key, Permissions: perms})
	}
	return out, nil
}

func loadSettingsFile(path string) (*settingsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f settingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &f, nil
}

func runCreateSettings(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("create-settings", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var creator keyFlag
	fs.Var(&creator, "creator", "Creator paying fee and rent (REQUIRED)")
	file := fs.String("file", "", "Signer YAML file (REQUIRED)")
	profilePath := fs.String("profile", "", "Program profile enforcing a time-lock ceiling")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}
	if !required(stderr, fs, map[string]*keyFlag{"creator": &creator}) {
		return 2
	}

	sf, err := loadSettingsFile(*file)
	if err != nil {
		return exitCode(stderr, err)
	}
	set, err := sf.signers()
	if err != nil {
		return exitCode(stderr, err)
	}
	var auth solana.PublicKey
	if sf.Authority != "" {
		if auth, err = solana.PublicKeyFromBase58(sf.Authority); err != nil {
			return exitCode(stderr, fmt.Errorf("authority: %w", err))
		}
	}
	if *profilePath != "" {
		profile, err := config.LoadProgramProfile(*profilePath)
		if err != nil {
			return exitCode(stderr, err)
		}
		if err := profile.CheckTimeLock(sf.TimeLock); err != nil {
			return exitCode(stderr, err)
		}
	}

	return withEngine(stderr, func(ctx context.Context, e *smartaccount.Engine) error {
		cfg, err := e.ProgramConfig(ctx)
		if err != nil {
			return err
		}
		res, err := e.CreateSettings(ctx, smartaccount.CreateSettingsRequest{
			Creator:           creator.key,
			SettingsAuthority: auth,
			Signers:           set,
			Threshold:         sf.Threshold,
			TimeLock:          sf.TimeLock,
			Treasury:          cfg.Treasury,
		})
		if err != nil {
			return err
		}
		vault, err := e.Deriver().SmartAccount(res.Settings, 0)
		if err != nil {
			return err
		}
		return writeJSON(stdout, map[string]string{
			"settings": res.Settings.String(),
			"vault":    vault.Address.String(),
		})
	})
}

func runShow(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var settingsKey keyFlag
	fs.Var(&settingsKey, "settings", "Settings address (REQUIRED)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !required(stderr, fs, map[string]*keyFlag{"settings": &settingsKey}) {
		return 2
	}
	return withEngine(stderr, func(ctx context.Context, e *smartaccount.Engine) error {
		s, err := e.Settings(ctx, settingsKey.key)
		if err != nil {
			return err
		}
		return writeJSON(stdout, s)
	})
}

func runPropose(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("propose", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var settingsKey, creator, to keyFlag
	fs.Var(&settingsKey, "settings", "Settings address (REQUIRED)")
	fs.Var(&creator, "creator", "Proposing signer (REQUIRED)")
	fs.Var(&to, "to", "Transfer destination (REQUIRED)")
	lamports := fs.Uint64("lamports", 0, "Amount to transfer")
	accountIndex := fs.Uint("account-index", 0, "Vault index")
	draft := fs.Bool("draft", false, "Open the proposal as a draft")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !required(stderr, fs, map[string]*keyFlag{"settings": &settingsKey, "creator": &creator, "to": &to}) {
		return 2
	}
	if *accountIndex > 255 {
		_, _ = fmt.Fprintln(stderr, "Error: --account-index must fit in a byte")
		return 2
	}

	return withEngine(stderr, func(ctx context.Context, e *smartaccount.Engine) error {
		vault, err := e.Deriver().SmartAccount(settingsKey.key, uint8(*accountIndex))
		if err != nil {
			return err
		}
		ix, err := contracts.FromSolana(system.NewTransferInstruction(*lamports, vault.Address, to.key).Build())
		if err != nil {
			return err
		}
		msg, err := contracts.CompileMessage(vault.Address, []contracts.Instruction{ix})
		if err != nil {
			return err
		}
		idx, err := e.CreateTransaction(ctx, smartaccount.CreateTransactionRequest{
			Consensus:    settingsKey.key,
			Creator:      creator.key,
			AccountIndex: uint8(*accountIndex),
			Message:      msg,
		})
		if err != nil {
			return err
		}
		if err := e.CreateProposal(ctx, smartaccount.CreateProposalRequest{
			Consensus:        settingsKey.key,
			TransactionIndex: idx,
			Creator:          creator.key,
			Draft:            *draft,
		}); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(stdout, idx)
		return nil
	})
}

// proposalFlags parses the --settings/--index pair shared by proposal commands.
func proposalFlags(fs *flag.FlagSet) (*keyFlag, *uint64) {
	var settingsKey keyFlag
	fs.Var(&settingsKey, "settings", "Settings address (REQUIRED)")
	index := fs.Uint64("index", 0, "Transaction index (REQUIRED)")
	return &settingsKey, index
}

func voteCmd(action string) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		fs := flag.NewFlagSet(action, flag.ContinueOnError)
		fs.SetOutput(stderr)
		settingsKey, index := proposalFlags(fs)
		var signer keyFlag
		fs.Var(&signer, "signer", "Voting signer (REQUIRED)")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		if !required(stderr, fs, map[string]*keyFlag{"settings": settingsKey, "signer": &signer}) {
			return 2
		}

		return withEngine(stderr, func(ctx context.Context, e *smartaccount.Engine) error {
			apply := map[string]func(context.Context, smartaccount.VoteRequest) error{
				"activate": e.ActivateProposal,
				"approve":  e.ApproveProposal,
				"reject":   e.RejectProposal,
				"cancel":   e.CancelProposal,
			}[action]
			req := smartaccount.VoteRequest{Consensus: settingsKey.key, TransactionIndex: *index, Signer: signer.key}
			if err := apply(ctx, req); err != nil {
				return err
			}
			p, err := e.Proposal(ctx, settingsKey.key, *index)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, p.Status.Kind)
			return nil
		})
	}
}

func runExecute(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("execute", flag.ContinueOnError)
	fs.SetOutput(stderr)
	settingsKey, index := proposalFlags(fs)
	var executor keyFlag
	fs.Var(&executor, "executor", "Executing signer (REQUIRED)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !required(stderr, fs, map[string]*keyFlag{"settings": settingsKey, "executor": &executor}) {
		return 2
	}
	return withEngine(stderr, func(ctx context.Context, e *smartaccount.Engine) error {
		if err := e.ExecuteTransaction(ctx, smartaccount.ExecuteRequest{
			Consensus:        settingsKey.key,
			TransactionIndex: *index,
			Executor:         executor.key,
		}); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "executed %d\n", *index)
		return nil
	})
}

func runClose(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("close", flag.ContinueOnError)
	fs.SetOutput(stderr)
	settingsKey, index := proposalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !required(stderr, fs, map[string]*keyFlag{"settings": settingsKey}) {
		return 2
	}
	return withEngine(stderr, func(ctx context.Context, e *smartaccount.Engine) error {
		if err := e.CloseTransaction(ctx, smartaccount.CloseRequest{Consensus: settingsKey.key, TransactionIndex: *index}); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "closed %d\n", *index)
		return nil
	})
}

func runShowProposal(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("proposal", flag.ContinueOnError)
	fs.SetOutput(stderr)
	settingsKey, index := proposalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !required(stderr, fs, map[string]*keyFlag{"settings": settingsKey}) {
		return 2
	}
	return withEngine(stderr, func(ctx context.Context, e *smartaccount.Engine) error {
		p, err := e.Proposal(ctx, settingsKey.key, *index)
		if err != nil {
			return err
		}
		if p == nil {
			return errs.ErrNotFound.With("no proposal at index %d", *index)
		}
		return writeJSON(stdout, map[string]any{
			"status":   p.Status.Kind.String(),
			"approved": p.Approved,
			"rejected": p.Rejected,
		})
	})
}
