package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/profile-ledger/internal/anticheat"
	"github.com/profile-ledger/internal/domain"
)

// accountState tracks the monotonically growing progression the generator
// reports for one simulated account.
type accountState struct {
	id     string
	xp     int64
	kills  int64
	wins   int64
	quests int64
}

var statKeys = []string{"kills", "wins", "quests_completed", "chests_opened", "bosses_defeated"}

var namePrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

func accountID(idx int) string {
	prefixIdx := idx % len(namePrefixes)
	suffix := idx/len(namePrefixes) + 1
	return fmt.Sprintf("load-%s%d", strings.ToLower(namePrefixes[prefixIdx]), suffix)
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "profile-sync", "Kafka topic")
	totalAccounts := flag.Int("accounts", 1000, "Number of simulated accounts")
	updatesPerSecond := flag.Int("rate", 100, "Sync submissions per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	hmacKey := flag.String("hmac-key", "", "Sign submissions with this HMAC key")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🚀 Profile Sync Load Generator")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:       %s\n", *brokers)
	fmt.Printf("  Topic:         %s\n", *topic)
	fmt.Printf("  Accounts:      %d\n", *totalAccounts)
	fmt.Printf("  Updates/sec:   %d\n", *updatesPerSecond)
	fmt.Printf("  Signed:        %v\n", *hmacKey != "")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	accounts := make([]*accountState, *totalAccounts)
	for i := range accounts {
		accounts[i] = &accountState{id: accountID(i)}
	}

	sendSync := func(acct *accountState) {
		// Progression only moves forward; resubmitted state must never
		// shrink or the server discards the regression.
		acct.xp += int64(rand.Intn(400) + 50)
		acct.kills += int64(rand.Intn(5))
		if rand.Intn(4) == 0 {
			acct.wins++
		}
		if rand.Intn(10) == 0 {
			acct.quests++
		}

		sub := domain.SyncSubmission{
			AccountID: acct.id,
			XP:        acct.xp,
			Level:     domain.LevelForXP(acct.xp),
			Stats: map[string]int64{
				statKeys[0]: acct.kills,
				statKeys[1]: acct.wins,
				statKeys[2]: acct.quests,
			},
		}

		data, err := json.Marshal(sub)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}
		if *hmacKey != "" {
			sub.SignedAt = time.Now().Unix()
			sub.Signature = anticheat.Sign([]byte(*hmacKey), data, sub.SignedAt)
			if data, err = json.Marshal(sub); err != nil {
				log.Printf("Failed to marshal signed message: %v", err)
				return
			}
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(sub.AccountID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
		}
	}

	finish := func(reason string) {
		fmt.Printf("\n\n%s\n", reason)
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("✓ Completed. Sent: %d, Errors: %d\n",
			atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	interval := time.Second / time.Duration(*updatesPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	for {
		select {
		case <-sigChan:
			finish("Shutting down...")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				finish("Duration reached, shutting down...")
				return
			}

			// 70% of traffic hammers a hot subset so leaderboard ranks move
			var idx int
			if rand.Intn(100) < 70 && *totalAccounts > 20 {
				idx = rand.Intn(20)
			} else {
				idx = rand.Intn(*totalAccounts)
			}
			sendSync(accounts[idx])

		case <-statsTicker.C:
			fmt.Printf("\r  Sent: %d, Errors: %d",
				atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
		}
	}
}
