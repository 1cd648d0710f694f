// Command flowclassd is a small demo harness: it builds a classifier,
// installs 2000 rules at staggered priorities, then runs one
// goroutine hammering Lookup and another mutating the rule set, to
// exercise the RCU publication path the way a real control plane and
// data plane would pull against each other.
package main

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/okt-artemii/flowclass"
	"github.com/okt-artemii/flowclass/field"
	"github.com/okt-artemii/flowclass/miniflow"
)

func demoRegistry() *field.Registry {
	reg := field.NewRegistry()
	must(reg.Register(field.Field{ID: 1, Name: "metadata", Offset: 0, Width: 64, Category: field.Metadata}))
	must(reg.Register(field.Field{ID: 2, Name: "eth_dst", Offset: 64, Width: 48, Category: field.L2, AddrLike: true}))
	must(reg.Register(field.Field{ID: 3, Name: "ipv4_src", Offset: 128, Width: 32, Category: field.L3, AddrLike: true}))
	must(reg.Register(field.Field{ID: 4, Name: "ipv4_dst", Offset: 160, Width: 32, Category: field.L3, AddrLike: true}))
	must(reg.Register(field.Field{ID: 5, Name: "tcp_dst", Offset: 192, Width: 16, Category: field.L4}))
	return reg
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func randomRule(prng *rand.Rand, priority uint32) *flowclass.Rule {
	var value, mask miniflow.Key

	// pin a /24-ish ipv4_dst prefix.
	plen := 16 + prng.IntN(17)
	for i := 0; i < plen; i++ {
		bit := uint32(160 + i)
		mask = mask.WithBit(bit)
		if prng.IntN(2) == 1 {
			value = value.WithBit(bit)
		}
	}

	// half the rules also pin a tcp destination port.
	if prng.IntN(2) == 0 {
		port := uint64(1024 + prng.IntN(60000))
		value = value.WithField(192, 16, port)
		for i := uint32(192); i < 208; i++ {
			mask = mask.WithBit(i)
		}
	}

	match := miniflow.NewMatch(value, mask)
	rule, err := flowclass.NewRule(match, priority, nil)
	must(err)
	return rule
}

func randomFlow(prng *rand.Rand) miniflow.Key {
	var k miniflow.Key
	for i := uint32(128); i < 224; i++ {
		if prng.IntN(2) == 1 {
			k = k.WithBit(i)
		}
	}
	return k
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	reg := demoRegistry()
	c := flowclass.NewClassifier(reg,
		flowclass.WithLogger(log),
		flowclass.WithMetadataField(1),
	)
	must(c.SetPrefixFields([]field.ID{3, 4}))

	prng := rand.New(rand.NewPCG(7, 42))

	for i := 0; i < 2000; i++ {
		must(c.Insert(randomRule(prng, uint32(i%1000))))
	}
	log.Infof("installed %d rules across %d subtables", c.Count(), c.Stats().SubtableCount)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		lookupPrng := rand.New(rand.NewPCG(1, 1))
		for i := 0; i < 200_000; i++ {
			c.Lookup(randomFlow(lookupPrng))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		churnPrng := rand.New(rand.NewPCG(2, 2))
		for i := 0; i < 500; i++ {
			r := randomRule(churnPrng, uint32(2000+i))
			must(c.Insert(r))
			time.Sleep(time.Millisecond)
			_ = c.Remove(r)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			stats := c.Stats()
			log.WithFields(logrus.Fields{
				"rules":        stats.RuleCount,
				"subtables":    stats.SubtableCount,
				"max_chain":    stats.MaxChainDepth,
				"tries":        stats.TrieCount,
			}).Info("classifier stats")
			time.Sleep(200 * time.Millisecond)
		}
	}()

	wg.Wait()
	log.Info("done")
}
