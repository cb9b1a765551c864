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

package balance

import (
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/provideplatform/xchain/account"
	"github.com/provideplatform/xchain/common"
	provide "github.com/provideplatform/provide-go/common"
)

type snapshotJSON struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	AsOf    uint64 `json:"as_of"`
}

func marshalSnapshot(s *Snapshot) ([]byte, error) {
	return json.Marshal(&snapshotJSON{
		Address: s.address.String(),
		Amount:  s.amount.String(),
		AsOf:    s.asOf,
	})
}

// InstallAPI registers the balance API handlers with gin
func InstallAPI(r *gin.Engine, oracle *Oracle) {
	r.GET("/api/v1/accounts/:address/balance", balanceAtHandler(oracle))
}

// query the balance of an account at a chain time
func balanceAtHandler(oracle *Oracle) gin.HandlerFunc {
	return func(c *gin.Context) {
		address, err := account.ResolveForNetwork(c.Param("address"), common.SS58Prefix)
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		at, err := strconv.ParseUint(c.Query("at"), 10, 64)
		if err != nil {
			provide.RenderError("at query param must be a chain time", 400, c)
			return
		}

		snapshot, err := oracle.QueryBalanceAt(c.Request.Context(), address, at)
		if err != nil {
			switch common.KindOf(err) {
			case common.KindAccountNotFound:
				provide.RenderError(err.Error(), 404, c)
			case common.KindTimeNotYetFinalized:
				provide.RenderError(err.Error(), 409, c)
			default:
				provide.RenderError(err.Error(), 503, c)
			}
			return
		}

		provide.Render(snapshot, 200, c)
	}
}
