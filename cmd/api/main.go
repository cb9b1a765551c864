/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis"
	dbconf "github.com/kthomas/go-db-config"
	natsutil "github.com/kthomas/go-natsutil"
	"github.com/nats-io/nats.go"
	"github.com/provideplatform/xchain/balance"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/ledger"
	"github.com/provideplatform/xchain/proof"
	proofproviders "github.com/provideplatform/xchain/proof/providers"
	"github.com/provideplatform/xchain/relay"
	relayproviders "github.com/provideplatform/xchain/relay/providers"
	"github.com/provideplatform/xchain/vesting"

	provide "github.com/provideplatform/provide-go/common"
)

const runloopSleepInterval = 250 * time.Millisecond
const runloopTickInterval = 5000 * time.Millisecond

var (
	cancelF     context.CancelFunc
	closing     uint32
	shutdownCtx context.Context
	sigs        chan os.Signal

	srv *http.Server
	wg  sync.WaitGroup
)

func main() {
	common.Log.Debug("starting xchain API...")
	installSignalHandlers()

	r, err := router()
	if err != nil {
		common.Log.Panicf("failed to initialize xchain API; %s", err.Error())
	}
	runAPI(r)

	timer := time.NewTicker(runloopTickInterval)
	defer timer.Stop()

	for !shuttingDown() {
		select {
		case <-timer.C:
			// tick... no-op
		case sig := <-sigs:
			common.Log.Debugf("received signal: %s", sig)
			srv.Shutdown(shutdownCtx)
			shutdown()
		case <-shutdownCtx.Done():
			close(sigs)
		default:
			time.Sleep(runloopSleepInterval)
		}
	}

	common.Log.Debug("exiting xchain API")
	cancelF()
}

func installSignalHandlers() {
	common.Log.Debug("installing signal handlers for xchain API")
	sigs = make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	shutdownCtx, cancelF = context.WithCancel(context.Background())
}

func shutdown() {
	if atomic.AddUint32(&closing, 1) == 1 {
		common.Log.Debug("shutting down xchain API")
		cancelF()
	}
}

func shuttingDown() bool {
	return (atomic.LoadUint32(&closing) > 0)
}

// components are the collaborators wired into the API
type components struct {
	ledger    ledger.Provider
	attacher  *proof.Attacher
	transport relayproviders.Transport
	relay     *relay.Relay
	scheduler *vesting.Scheduler
}

func router() (*gin.Engine, error) {
	c, err := wire()
	if err != nil {
		return nil, err
	}

	relay.RequireReceiptConsumers(c.relay, &wg)
	return installAPI(c), nil
}

func installAPI(c *components) *gin.Engine {
	r := gin.Default()
	r.Use(gin.Recovery())
	r.Use(provide.CORSMiddleware())

	r.GET("/status", statusHandler)

	balance.InstallAPI(r, balance.NewOracle(c.ledger))
	vesting.InstallAPI(r, c.scheduler, c.ledger)
	relay.InstallAPI(r, c.attacher, c.relay)

	return r
}

func runAPI(r *gin.Engine) {
	srv = &http.Server{
		Addr:    common.ListenAddr,
		Handler: r,
	}

	go func() {
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			common.Log.Panicf("failed to start xchain API; %s", err.Error())
		}
	}()

	common.Log.Debugf("listening on %s", common.ListenAddr)
}

func statusHandler(c *gin.Context) {
	provide.Render(nil, 204, c)
}

// wire initializes every component from the environment
func wire() (*components, error) {
	natsEnabled := os.Getenv("NATS_URL") != ""
	databaseEnabled := os.Getenv("DATABASE_HOST") != ""

	var conn *nats.Conn
	if natsEnabled {
		natsutil.EstablishSharedNatsConnection(nil)

		var err error
		conn, err = nats.Connect(os.Getenv("NATS_URL"))
		if err != nil {
			return nil, fmt.Errorf("failed to establish NATS connection; %s", err.Error())
		}
	}

	c := &components{}

	switch common.LedgerProvider {
	case ledger.LedgerProviderNATS:
		if !natsEnabled {
			return nil, fmt.Errorf("%s ledger provider requires NATS_URL", ledger.LedgerProviderNATS)
		}
		c.ledger = ledger.InitNATSLedger(conn)
	case ledger.LedgerProviderMemory:
		common.Log.Warning("using in-memory ledger provider")
		c.ledger = ledger.NewMemoryLedger(0)
	default:
		return nil, fmt.Errorf("unsupported ledger provider: %s", common.LedgerProvider)
	}

	var schedules vesting.Repository
	var attempts relay.Repository
	var receiptStore relay.ReceiptStore
	if databaseEnabled {
		db := dbconf.DatabaseConnection()
		schedules = vesting.NewGormRepository(db)
		attempts = relay.NewGormRepository(db)
		receiptStore = relay.NewGormReceiptStore(db)
	} else {
		common.Log.Warning("DATABASE_HOST not set; vesting schedules, relay attempts and receipts will not be persisted")
		schedules = vesting.NewMemoryRepository()
		attempts = relay.NewMemoryRepository()
		receiptStore = relay.NewMemoryReceiptStore()
	}

	receipts, err := relay.InitReceiptTree(context.Background(), receiptStore)
	if err != nil {
		return nil, err
	}

	c.scheduler = vesting.NewScheduler(c.ledger, schedules)

	signer, err := requireSigner()
	if err != nil {
		return nil, err
	}

	c.attacher, err = proof.NewAttacher(common.SenderID, requireSequenceAllocator(), signer)
	if err != nil {
		return nil, err
	}

	if natsEnabled {
		natsutil.NatsCreateStream(relay.DefaultNatsStream, relay.StreamSubjects())
		c.transport, err = relayproviders.InitNATSTransport(conn)
		if err != nil {
			return nil, err
		}
		c.relay = relay.NewRelay(c.transport, attempts).WithReceipts(receipts).WithNotifier(&relay.NATSNotifier{})
	} else {
		common.Log.Warning("NATS_URL not set; relaying envelopes over the loopback transport")
		c.transport = relayproviders.InitMemoryTransport(c.attacher.Digester())
		c.relay = relay.NewRelay(c.transport, attempts).WithReceipts(receipts)
	}

	return c, nil
}

// requireSigner loads the envelope signing key from XCHAIN_SIGNER_SEED, or generates an
// ephemeral one
func requireSigner() (proof.Signer, error) {
	seed := os.Getenv("XCHAIN_SIGNER_SEED")
	if seed == "" {
		common.Log.Warning("XCHAIN_SIGNER_SEED not set; generating ephemeral envelope signing key")
		return proof.GenerateEd25519Signer()
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(seed, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode XCHAIN_SIGNER_SEED; %s", err.Error())
	}
	return proof.NewEd25519Signer(raw)
}

// requireSequenceAllocator returns the redis-backed allocator when REDIS_HOSTS is set
func requireSequenceAllocator() proofproviders.SequenceAllocator {
	hosts := os.Getenv("REDIS_HOSTS")
	if hosts == "" {
		common.Log.Warning("REDIS_HOSTS not set; envelope sequence numbers will not survive a restart")
		return proofproviders.InitMemorySequenceAllocator()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     strings.Split(hosts, ",")[0],
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	return proofproviders.InitRedisSequenceAllocator(client)
}
