package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
	"github.com/HORNET-Storage/hornet-relay-client/lib/signing"
	"github.com/HORNET-Storage/hornet-relay-client/lib/transports/websocket"
)

const feedLimit = 100

func RunCommandWatcher(ctx context.Context, c *client) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		var command string
		select {
		case <-ctx.Done():
			fmt.Println("Shutting down")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			command = strings.TrimSpace(line)
		}

		segments := strings.Fields(command)
		if len(segments) == 0 {
			continue
		}
		args := segments[1:]

		switch segments[0] {
		case "help":
			printHelp()
		case "connect":
			c.machine.Connect(relaysOr(args, c.cfg.Relays.Default))
		case "feed":
			feedCommand(c, args)
		case "global":
			c.machine.RequestFeedChange(relaysOr(args, c.cfg.Relays.Default),
				nostr.Filter{Kinds: []int{nostr.KindTextNote}, Limit: feedLimit})
		case "retry":
			c.machine.Retry()
		case "disconnect":
			c.machine.Disconnect()
		case "block", "unblock", "unflag", "reset":
			relayCommand(c, segments[0], args)
		case "unblock-all":
			fmt.Printf("unblocked %d relays\n", c.tracker.UnblockAll())
		case "health":
			printHealth(c)
		case "storage":
			printStorage(c)
		case "status":
			printStatus(c)
		case "publish":
			publishCommand(ctx, c, strings.TrimSpace(strings.TrimPrefix(command, "publish")))
		case "info":
			if len(args) != 1 {
				fmt.Println("usage: info <relay-url>")
				continue
			}
			info, err := websocket.FetchRelayInfo(args[0], 10*time.Second)
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			printRelayInfo(args[0], info)
		case "whoami":
			if npub, err := c.signer.Npub(); err == nil {
				fmt.Println(npub)
			}
		case "shutdown", "exit", "quit":
			fmt.Println("Shutting down")
			return
		default:
			fmt.Printf("Unknown command: %s\n", command)
		}
	}
}

func printHelp() {
	fmt.Println("Available Commands:")
	fmt.Println("  connect [relay...]              connect to relays")
	fmt.Println("  feed <author,...> [relay...]    follow authors (hex or npub)")
	fmt.Println("  global [relay...]               follow every text note")
	fmt.Println("  retry                           retry after a failure")
	fmt.Println("  disconnect                      close every relay")
	fmt.Println("  block|unblock|unflag|reset <relay>")
	fmt.Println("  unblock-all                     clear the block-list")
	fmt.Println("  health                          relay health table")
	fmt.Println("  storage                         stored buckets and keys")
	fmt.Println("  status                          connection and auth status")
	fmt.Println("  publish <text>                  sign and publish a note")
	fmt.Println("  info <relay>                    relay information document")
	fmt.Println("  whoami                          show the signing npub")
	fmt.Println("  shutdown")
}

func relaysOr(args, fallback []string) []string {
	if len(args) > 0 {
		return args
	}
	return fallback
}

func feedCommand(c *client, args []string) {
	if len(args) == 0 {
		fmt.Println("usage: feed <author,...> [relay...]")
		return
	}

	var authors []string
	for _, a := range strings.Split(args[0], ",") {
		pubkey, err := decodeAuthor(a)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		authors = append(authors, pubkey)
	}

	c.machine.RequestFeedChange(relaysOr(args[1:], c.cfg.Relays.Default), nostr.Filter{
		Kinds:   []int{nostr.KindTextNote},
		Authors: authors,
		Limit:   feedLimit,
	})
}

// decodeAuthor accepts an npub or a 32 byte hex public key
func decodeAuthor(s string) (string, error) {
	publicKey, err := signing.DeserializePublicKey(s)
	if err != nil {
		return "", fmt.Errorf("invalid public key %q: %w", s, err)
	}
	return signing.PublicKeyHex(publicKey), nil
}

func relayCommand(c *client, action string, args []string) {
	if len(args) != 1 {
		fmt.Printf("usage: %s <relay-url>\n", action)
		return
	}
	url := nostr.NormalizeURL(args[0])
	if url == "" {
		fmt.Println("Invalid relay url:", args[0])
		return
	}

	switch action {
	case "block":
		c.tracker.Block(url)
	case "unblock":
		c.tracker.Unblock(url)
	case "unflag":
		c.tracker.Unflag(url)
	case "reset":
		c.tracker.Reset(url)
	}
	fmt.Printf("%s: %s\n", action, url)
}

func printHealth(c *client) {
	records := c.tracker.Snapshot()
	if len(records) == 0 {
		fmt.Println("No relay statistics yet")
		return
	}
	for _, r := range records {
		marks := ""
		if r.Flagged {
			marks += " flagged"
		}
		if r.Blocked {
			marks += " blocked"
		}
		fmt.Printf("%-40s attempts=%d failures=%d rate=%.2f latency=%s events=%d%s\n",
			r.URL, r.Attempts, r.Failures, r.FailureRate(), r.AverageLatency(), r.EventsReceived, marks)
		if r.LastError != "" {
			fmt.Printf("%-40s last error: %s\n", "", r.LastError)
		}
	}
}

func printStorage(c *client) {
	for _, name := range c.store.GetBucketList() {
		keys, err := c.store.GetBucket(name).Keys()
		if err != nil {
			fmt.Printf("%-20s error: %v\n", name, err)
			continue
		}
		fmt.Printf("%-20s %d keys %s\n", name, len(keys), strings.Join(keys, ","))
	}
}

func printStatus(c *client) {
	fmt.Println("state:", c.machine.State().Get().String())

	if active := c.machine.ActiveFeed().Get(); active != nil {
		fmt.Printf("feed: %s on %d relays\n", active.SubscriptionID, len(active.Relays))
	}

	statuses := c.machine.RelayStatuses().Get()
	urls := make([]string, 0, len(statuses))
	for url := range statuses {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	for _, url := range urls {
		fmt.Printf("  %-40s %-10s auth=%s\n", url, statuses[url], c.auth.Status(url))
	}

	if c.dedup != nil {
		fmt.Printf("dedup: %d cached, %d duplicates dropped\n", c.dedup.Len(), c.dedup.Duplicates())
	}
}

func publishCommand(ctx context.Context, c *client, content string) {
	if content == "" {
		fmt.Println("usage: publish <text>")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ev, err := c.publisher.Publish(ctx, nostr.EventTemplate{
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindTextNote,
		Content:   content,
	}, c.feedRelays())
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println("published", ev.ID)
}

func printRelayInfo(url string, info *websocket.NIP11RelayInfo) {
	fmt.Println("relay:", url)
	fmt.Println("  name:", info.Name)
	if info.Description != "" {
		fmt.Println("  description:", info.Description)
	}
	if info.Software != "" {
		fmt.Printf("  software: %s %s\n", info.Software, info.Version)
	}
	fmt.Println("  nips:", info.SupportedNIPs)
	if info.Limitation != nil {
		fmt.Println("  auth required:", info.Limitation.AuthRequired)
		fmt.Println("  payment required:", info.Limitation.PaymentRequired)
	}
}
