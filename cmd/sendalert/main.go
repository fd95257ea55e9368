// Command sendalert posts a synthetic TradingView alert to a running agent,
// useful for smoke-testing the webhook path without a live chart.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"bluefinAgent/internal/domain"
)

func main() {
	url := flag.String("url", "http://localhost:8080/webhook", "Webhook endpoint of the running agent")
	symbol := flag.String("symbol", "SUI-PERP", "Venue symbol for the alert")
	signalType := flag.String("signal", "GOLD_CIRCLE", "VuManChu signal type")
	action := flag.String("action", "", "Explicit action for ambiguous signal types (buy|sell)")
	timeframe := flag.String("timeframe", "5m", "Source chart timeframe")
	entry := flag.Float64("entry", 0, "Entry price hint (0 = market)")
	stopLoss := flag.Float64("stop", 0, "Stop-loss price hint (0 = computed)")
	takeProfit := flag.Float64("target", 0, "Take-profit price hint (0 = computed)")
	confidence := flag.Float64("confidence", 0, "Signal confidence override in (0,1]")
	passphrase := flag.String("passphrase", "", "Shared webhook secret, if the agent requires one")
	flag.Parse()

	alert := domain.RawAlert{
		Indicator:  "vumanchu_cipher_b",
		Symbol:     *symbol,
		Timeframe:  *timeframe,
		SignalType: *signalType,
		Action:     *action,
		Confidence: *confidence,
		Entry:      *entry,
		StopLoss:   *stopLoss,
		TakeProfit: *takeProfit,
		Passphrase: *passphrase,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		log.Fatalf("Failed to encode alert: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(*url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("Failed to post alert: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}

	fmt.Printf("%s\n%s\n", resp.Status, body)
}
