package main

import (
	"bufio"
	"context"
	"fmt"
	gonet "net"
	"os"
	"os/signal"
	"path"
	"syscall"

	clock "github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v2"

	"github.com/drand/kyber/share"
	"github.com/drand/kyber/util/random"

	"github.com/drand/bracha/core"
	"github.com/drand/bracha/crypto/vault"
	"github.com/drand/bracha/key"
	"github.com/drand/bracha/log"
	"github.com/drand/bracha/metrics"
	"github.com/drand/bracha/net"
	"github.com/drand/bracha/protocol"
	"github.com/drand/bracha/store"
)

func vaultFor(l log.Logger, group *key.Group, pair *key.Pair, sh *key.Share, values store.Store) (*protocol.Capability, error) {
	v, err := vault.NewVault(l, group, pair, sh, values)
	if err != nil {
		return nil, err
	}
	return v.Capability(), nil
}

func keygenCmd(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("keygen takes the node address as its only argument")
	}
	addr := c.Args().First()
	if _, _, err := gonet.SplitHostPort(addr); err != nil {
		return fmt.Errorf("address %q must be of the form host:port: %w", addr, err)
	}
	pair, err := key.NewKeyPair(addr, nil)
	if err != nil {
		return err
	}
	fileStore, err := key.NewFileStore(c.String(folderFlag.Name))
	if err != nil {
		return err
	}
	if err := fileStore.SaveKeyPair(pair); err != nil {
		return fmt.Errorf("saving keypair: %w", err)
	}
	fmt.Printf("Generated keypair for %s\nPublic key: %s\n", addr, key.PointToString(pair.Public.Key))
	return nil
}

// dealCmd plays the trusted dealer: it draws the group secret, splits it
// into threshold shares and writes the group file plus one share file per
// member.
func dealCmd(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("deal takes the members' public key files as arguments")
	}
	nodes := make([]*key.Identity, c.NArg())
	for i, file := range c.Args().Slice() {
		id := new(key.Identity)
		if err := key.Load(file, id); err != nil {
			return fmt.Errorf("reading public key file %s: %w", file, err)
		}
		nodes[i] = id
	}
	n := len(nodes)
	faults := c.Int(faultsFlag.Name)
	if !c.IsSet(faultsFlag.Name) {
		faults = (n - 1) / 3
	}

	sch := nodes[0].Scheme
	secret := sch.KeyGroup.Scalar().Pick(random.New())
	priPoly := share.NewPriPoly(sch.KeyGroup, n-faults, secret, random.New())
	pubPoly := priPoly.Commit(sch.KeyGroup.Point().Base())
	_, commits := pubPoly.Info()

	group, err := key.NewGroup(nodes, faults, &key.DistPublic{Coefficients: commits})
	if err != nil {
		return err
	}

	out := c.String(outFlag.Name)
	groupPath := path.Join(out, "group.toml")
	if err := key.Save(groupPath, group, false); err != nil {
		return err
	}
	for i, priShare := range priPoly.Shares(n) {
		s := &key.Share{
			Scheme:  sch,
			Share:   priShare,
			Commits: commits,
		}
		sharePath := path.Join(out, fmt.Sprintf("share-%d.toml", i))
		if err := key.Save(sharePath, s, true); err != nil {
			return err
		}
		fmt.Printf("Wrote share of %s to %s\n", nodes[i].Addr, sharePath)
	}
	fmt.Printf("Wrote group of %d nodes tolerating %d faults to %s\n", n, faults, groupPath)
	return nil
}

func runCmd(c *cli.Context) error {
	l := logger(c)
	fileStore, err := key.NewFileStore(c.String(folderFlag.Name))
	if err != nil {
		return err
	}
	pair, err := fileStore.LoadKeyPair()
	if err != nil {
		return fmt.Errorf("no keypair found, run keygen first: %w", err)
	}
	group, err := fileStore.LoadGroup()
	if err != nil {
		return fmt.Errorf("no group file found, copy the dealer's group.toml: %w", err)
	}
	sh, err := fileStore.LoadShare()
	if err != nil {
		return fmt.Errorf("no share file found, copy the dealer's share: %w", err)
	}

	values := store.NewMemStore()
	vlt, err := vaultFor(l, group, pair, sh, values)
	if err != nil {
		return err
	}
	router, err := net.NewRouter(l, clock.NewRealClock(), group, pair.Public.Addr)
	if err != nil {
		return err
	}
	if err := router.Listen(); err != nil {
		return err
	}
	defer router.Stop()

	node, err := core.NewNode(&core.Config{
		Self:      pair.Public.Addr,
		Cluster:   group.Addresses(),
		Faults:    group.Faults,
		Crypto:    vlt,
		Values:    values,
		Transport: router,
		Logger:    l,
	})
	if err != nil {
		return err
	}
	node.OnDelivery("stdout", func(origin string, round uint64, value string) {
		fmt.Printf(">> delivered from %s at round %d: %q\n", origin, round, value)
	})

	if addr := c.String(metricsFlag.Name); addr != "" {
		server := metrics.Start(l, addr)
		defer server.Close()
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()
	go func() {
		// every stdin line becomes a proposal at this node's next round
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if err := node.Propose(ctx, line); err != nil {
				l.Errorw("propose failed", "err", err)
			}
		}
	}()

	fmt.Printf("node %s running, type a value and press enter to broadcast it\n", pair.Public.Addr)
	return node.Run(ctx)
}
