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

package common

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	logger "github.com/kthomas/go-logger"
)

const defaultSS58Prefix = 42
const defaultVestingPeriodLength = 1
const defaultRelayMaxAttempts = 5
const defaultProofMaxPayloadSize = 64 * 1024
const defaultProofDigestCurve = "bn254"
const defaultListenAddr = "0.0.0.0:8080"

var (
	// Log is the configured logger
	Log *logger.Logger

	// ListenAddr is the address the API listens on
	ListenAddr string

	// LedgerProvider selects the ledger provider; memory or nats
	LedgerProvider string

	// ConsumeNATSStreamingSubscriptions is a flag the indicates if the relay receipt consumers should be started
	ConsumeNATSStreamingSubscriptions bool

	// SenderID is the identifier of the local chain partition used as sender of outbound envelopes
	SenderID string

	// SS58Prefix is the network prefix used when encoding addresses
	SS58Prefix uint16

	// VestingPeriodLength is the default number of chain time units per vesting period
	VestingPeriodLength uint64

	// RelayMaxAttempts is the default maximum number of relay attempts per envelope
	RelayMaxAttempts int

	// ProofMaxPayloadSize is the default maximum envelope payload size, in bytes
	ProofMaxPayloadSize int

	// ProofDigestCurve is the curve whose MiMC hash binds envelope proofs to payloads
	ProofDigestCurve string
)

func init() {
	godotenv.Load()

	requireLogger()
	requireConfig()
}

func requireLogger() {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		lvl = "INFO"
	}

	var endpoint *string
	if os.Getenv("SYSLOG_ENDPOINT") != "" {
		endpt := os.Getenv("SYSLOG_ENDPOINT")
		endpoint = &endpt
	}

	Log = logger.NewLogger("xchain", lvl, endpoint)
}

func requireConfig() {
	ListenAddr = os.Getenv("LISTEN_ADDR")
	if ListenAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			ListenAddr = "0.0.0.0:" + port
		} else {
			ListenAddr = defaultListenAddr
		}
	}

	LedgerProvider = strings.ToLower(os.Getenv("LEDGER_PROVIDER"))
	if LedgerProvider == "" {
		LedgerProvider = "memory"
	}

	ConsumeNATSStreamingSubscriptions = strings.ToLower(os.Getenv("CONSUME_NATS_STREAMING_SUBSCRIPTIONS")) == "true"

	SenderID = os.Getenv("XCHAIN_SENDER_ID")
	if SenderID == "" {
		SenderID = "relay-chain"
	}

	SS58Prefix = uint16(envUint64("XCHAIN_SS58_PREFIX", defaultSS58Prefix))
	VestingPeriodLength = envUint64("VESTING_PERIOD_LENGTH", defaultVestingPeriodLength)
	if VestingPeriodLength == 0 {
		Log.Warningf("ignoring zero VESTING_PERIOD_LENGTH; using default period length of %d", defaultVestingPeriodLength)
		VestingPeriodLength = defaultVestingPeriodLength
	}

	RelayMaxAttempts = int(envUint64("RELAY_MAX_ATTEMPTS", defaultRelayMaxAttempts))
	ProofMaxPayloadSize = int(envUint64("PROOF_MAX_PAYLOAD_SIZE", defaultProofMaxPayloadSize))

	ProofDigestCurve = os.Getenv("PROOF_DIGEST_CURVE")
	if ProofDigestCurve == "" {
		ProofDigestCurve = defaultProofDigestCurve
	}
}

func envUint64(key string, fallback uint64) uint64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	val, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		Log.Warningf("failed to parse %s; using default %d; %s", key, fallback, err.Error())
		return fallback
	}

	return val
}
