package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/provideplatform/xchain/account"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/ledger"
	"github.com/provideplatform/xchain/proof"
	proofproviders "github.com/provideplatform/xchain/proof/providers"
	"github.com/provideplatform/xchain/relay"
	relayproviders "github.com/provideplatform/xchain/relay/providers"
	"github.com/provideplatform/xchain/vesting"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "xchain api")
}

func request(r *gin.Engine, method, path string, body interface{}) (int, map[string]interface{}) {
	var buf []byte
	if body != nil {
		var err error
		buf, err = json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	resp := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec.Code, resp
}

var _ = Describe("main", func() {
	var r *gin.Engine
	var chain *ledger.MemoryLedger
	var beneficiary account.Address
	var foreign account.Address

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		chain = ledger.NewMemoryLedger(0)

		signer, err := proof.GenerateEd25519Signer()
		Expect(err).NotTo(HaveOccurred())
		attacher, err := proof.NewAttacher("relay-chain", proofproviders.InitMemorySequenceAllocator(), signer)
		Expect(err).NotTo(HaveOccurred())

		transport := relayproviders.InitMemoryTransport(attacher.Digester())
		r = installAPI(&components{
			ledger:    chain,
			attacher:  attacher,
			transport: transport,
			relay:     relay.NewRelay(transport, relay.NewMemoryRepository()),
			scheduler: vesting.NewScheduler(chain, vesting.NewMemoryRepository()).WithPeriodLength(10),
		})

		beneficiary, err = account.NewAddress(common.SS58Prefix, bytes.Repeat([]byte{0x2a}, account.IDLength))
		Expect(err).NotTo(HaveOccurred())
		foreign, err = account.NewAddress(common.SS58Prefix+1, bytes.Repeat([]byte{0x2a}, account.IDLength))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("status", func() {
		It("should return no content", func() {
			status, _ := request(r, http.MethodGet, "/status", nil)
			Expect(status).To(Equal(204))
		})
	})

	Describe("balances", func() {
		It("should return the balance at a finalized chain time", func() {
			chain.SetBalance(beneficiary, 5, big.NewInt(250))
			chain.Finalize(10)

			status, resp := request(r, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%s/balance?at=7", beneficiary), nil)
			Expect(status).To(Equal(200))
			Expect(resp["amount"]).To(Equal("250"))
			Expect(resp["address"]).To(Equal(beneficiary.String()))
		})

		It("should refuse a chain time that is not yet finalized", func() {
			chain.SetBalance(beneficiary, 5, big.NewInt(250))
			chain.Finalize(10)

			status, _ := request(r, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%s/balance?at=11", beneficiary), nil)
			Expect(status).To(Equal(409))
		})

		It("should reject a malformed address", func() {
			status, _ := request(r, http.MethodGet, "/api/v1/accounts/0OIl/balance?at=1", nil)
			Expect(status).To(Equal(400))
		})

		It("should reject an address of another network", func() {
			chain.SetBalance(foreign, 5, big.NewInt(250))
			chain.Finalize(10)

			status, resp := request(r, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%s/balance?at=7", foreign), nil)
			Expect(status).To(Equal(400))
			Expect(fmt.Sprintf("%v", resp["errors"])).To(ContainSubstring("network"))
		})

		Context("when the configured network changes", func() {
			var prefix uint16

			BeforeEach(func() {
				prefix = common.SS58Prefix
				common.SS58Prefix = foreign.Network
			})

			AfterEach(func() {
				common.SS58Prefix = prefix
			})

			It("should accept addresses of the configured network only", func() {
				chain.SetBalance(foreign, 5, big.NewInt(250))
				chain.Finalize(10)

				status, _ := request(r, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%s/balance?at=7", foreign), nil)
				Expect(status).To(Equal(200))

				status, _ = request(r, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%s/balance?at=7", beneficiary), nil)
				Expect(status).To(Equal(400))
			})
		})
	})

	Describe("vesting schedules", func() {
		It("should create a schedule and report the unlocked amount", func() {
			status, resp := request(r, http.MethodPost, "/api/v1/schedules", map[string]interface{}{
				"beneficiary":  beneficiary.String(),
				"total_locked": "1000",
				"start_time":   100,
				"end_time":     200,
			})
			Expect(status).To(Equal(201))
			Expect(resp["status"]).To(Equal(string(vesting.SubmissionStatusAccepted)))

			schedule := resp["schedule"].(map[string]interface{})
			Expect(schedule["per_period"]).To(Equal("100"))

			status, resp = request(r, http.MethodGet, fmt.Sprintf("/api/v1/schedules/%s/unlocked?at=150", schedule["id"]), nil)
			Expect(status).To(Equal(200))
			Expect(resp["unlocked"]).To(Equal("500"))
		})

		It("should reject a beneficiary of another network", func() {
			status, _ := request(r, http.MethodPost, "/api/v1/schedules", map[string]interface{}{
				"beneficiary":  foreign.String(),
				"total_locked": "1000",
				"start_time":   100,
				"end_time":     200,
			})
			Expect(status).To(Equal(422))
		})

		It("should reject a schedule ending before it starts", func() {
			status, _ := request(r, http.MethodPost, "/api/v1/schedules", map[string]interface{}{
				"beneficiary":  beneficiary.String(),
				"total_locked": "1000",
				"start_time":   200,
				"end_time":     100,
			})
			Expect(status).To(Equal(422))
		})
	})

	Describe("envelopes", func() {
		It("should dispatch an envelope and commit its receipt", func() {
			_, before := request(r, http.MethodGet, "/api/v1/receipts/root", nil)

			status, resp := request(r, http.MethodPost, "/api/v1/envelopes", map[string]interface{}{
				"target":  "para-2000",
				"payload": []byte(`{"amount":"42"}`),
				"proof":   []byte("proof"),
			})
			Expect(status).To(Equal(201))
			Expect(resp["state"]).To(Equal(string(relay.StateAcknowledged)))
			Expect(resp["number"]).To(BeEquivalentTo(1))

			_, after := request(r, http.MethodGet, "/api/v1/receipts/root", nil)
			Expect(after["root"]).NotTo(Equal(before["root"]))

			status, attempts := request(r, http.MethodGet, fmt.Sprintf("/api/v1/attempts/%s", resp["id"]), nil)
			Expect(status).To(Equal(200))
			Expect(attempts["state"]).To(Equal(string(relay.StateAcknowledged)))
		})

		It("should refuse an envelope without a proof", func() {
			status, _ := request(r, http.MethodPost, "/api/v1/envelopes", map[string]interface{}{
				"target":  "para-2000",
				"payload": []byte(`{"amount":"42"}`),
			})
			Expect(status).To(Equal(422))
		})

		It("should refuse to retry an acknowledged attempt", func() {
			_, resp := request(r, http.MethodPost, "/api/v1/envelopes", map[string]interface{}{
				"target":  "para-2000",
				"payload": []byte(`{"amount":"42"}`),
				"proof":   []byte("proof"),
			})

			status, _ := request(r, http.MethodPost, fmt.Sprintf("/api/v1/attempts/%s/retry", resp["id"]), nil)
			Expect(status).To(Equal(409))
		})

		It("should return not found for an unknown attempt", func() {
			status, _ := request(r, http.MethodGet, "/api/v1/attempts/3f1c8a2e-7c1d-4c1e-9a4f-1b2c3d4e5f60", nil)
			Expect(status).To(Equal(404))
		})
	})
})
