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

package vesting

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/gin-gonic/gin"
	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/xchain/account"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/ledger"
	provide "github.com/provideplatform/provide-go/common"
)

type createScheduleRequest struct {
	Beneficiary string `json:"beneficiary"`
	TotalLocked string `json:"total_locked"`
	StartTime   uint64 `json:"start_time"`
	EndTime     uint64 `json:"end_time"`
}

type reviseScheduleRequest struct {
	Version uint64 `json:"version"`
	EndTime uint64 `json:"end_time"`
}

type unlockedResponse struct {
	ScheduleID string `json:"schedule_id"`
	Version    uint64 `json:"version"`
	State      State  `json:"state"`
	Unlocked   string `json:"unlocked"`
	At         uint64 `json:"at"`
}

// InstallAPI registers the vesting schedule API handlers with gin; the finalized chain
// time reported by the given ledger is used as the revision time
func InstallAPI(r *gin.Engine, scheduler *Scheduler, clock ledger.QueryProvider) {
	r.POST("/api/v1/schedules", createScheduleHandler(scheduler))
	r.GET("/api/v1/schedules/:id", scheduleDetailsHandler(scheduler))
	r.GET("/api/v1/schedules/:id/history", scheduleHistoryHandler(scheduler))
	r.GET("/api/v1/schedules/:id/unlocked", unlockedAmountHandler(scheduler))
	r.POST("/api/v1/schedules/:id/revisions", reviseScheduleHandler(scheduler, clock))
	r.POST("/api/v1/schedules/:id/reconcile", reconcileScheduleHandler(scheduler))
}

func renderError(err error, c *gin.Context) {
	switch common.KindOf(err) {
	case common.KindInvalidScheduleParameters, common.KindInvalidAddressFormat:
		provide.RenderError(err.Error(), 422, c)
	case common.KindNotFound:
		provide.RenderError(err.Error(), 404, c)
	case common.KindInvalidRevision:
		provide.RenderError(err.Error(), 409, c)
	case common.KindSubmissionRejected:
		provide.RenderError(err.Error(), 502, c)
	case common.KindTransportUnavailable:
		provide.RenderError(err.Error(), 503, c)
	default:
		provide.RenderError(err.Error(), 500, c)
	}
}

func scheduleIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		provide.RenderError("invalid schedule id", 400, c)
		return uuid.Nil, false
	}
	return id, true
}

// create a vesting schedule
func createScheduleHandler(scheduler *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		buf, err := c.GetRawData()
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		params := &createScheduleRequest{}
		err = json.Unmarshal(buf, &params)
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		beneficiary, err := account.ResolveForNetwork(params.Beneficiary, common.SS58Prefix)
		if err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}

		total, ok := new(big.Int).SetString(params.TotalLocked, 10)
		if !ok {
			provide.RenderError(fmt.Sprintf("invalid total locked amount: %s", params.TotalLocked), 422, c)
			return
		}

		schedule, err := scheduler.CreateSchedule(c.Request.Context(), beneficiary, total, params.StartTime, params.EndTime)
		if err != nil {
			renderError(err, c)
			return
		}

		submission, err := scheduler.Schedule(c.Request.Context(), schedule.ID())
		if err != nil {
			renderError(err, c)
			return
		}

		provide.Render(submission, 201, c)
	}
}

// fetch the latest version of a vesting schedule
func scheduleDetailsHandler(scheduler *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := scheduleIDParam(c)
		if !ok {
			return
		}

		submission, err := scheduler.Schedule(c.Request.Context(), id)
		if err != nil {
			renderError(err, c)
			return
		}

		provide.Render(submission, 200, c)
	}
}

// fetch all versions of a vesting schedule
func scheduleHistoryHandler(scheduler *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := scheduleIDParam(c)
		if !ok {
			return
		}

		history, err := scheduler.History(c.Request.Context(), id)
		if err != nil {
			renderError(err, c)
			return
		}

		provide.Render(history, 200, c)
	}
}

// compute the unlocked amount of the latest version at a chain time
func unlockedAmountHandler(scheduler *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := scheduleIDParam(c)
		if !ok {
			return
		}

		at, err := strconv.ParseUint(c.Query("at"), 10, 64)
		if err != nil {
			provide.RenderError("at query param must be a chain time", 400, c)
			return
		}

		submission, err := scheduler.Schedule(c.Request.Context(), id)
		if err != nil {
			renderError(err, c)
			return
		}

		schedule := submission.Schedule
		provide.Render(&unlockedResponse{
			ScheduleID: schedule.ID().String(),
			Version:    schedule.Version(),
			State:      schedule.StateAt(at),
			Unlocked:   schedule.UnlockedAmountAt(at).String(),
			At:         at,
		}, 200, c)
	}
}

// revise the end time of a releasing vesting schedule
func reviseScheduleHandler(scheduler *Scheduler, clock ledger.QueryProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := scheduleIDParam(c)
		if !ok {
			return
		}

		buf, err := c.GetRawData()
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		params := &reviseScheduleRequest{}
		err = json.Unmarshal(buf, &params)
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		latest, err := scheduler.Schedule(c.Request.Context(), id)
		if err != nil {
			renderError(err, c)
			return
		}

		schedule := latest.Schedule
		if params.Version != 0 && params.Version != schedule.Version() {
			provide.RenderError(fmt.Sprintf("version %d is not the latest version of schedule %s", params.Version, id), 409, c)
			return
		}

		now, err := clock.FinalizedTime(c.Request.Context())
		if err != nil {
			renderError(common.Wrap(common.KindTransportUnavailable, err, "failed to resolve finalized chain time"), c)
			return
		}

		revised, err := scheduler.ReviseSchedule(c.Request.Context(), schedule, params.EndTime, now)
		if err != nil {
			renderError(err, c)
			return
		}

		submission, err := scheduler.Schedule(c.Request.Context(), revised.ID())
		if err != nil {
			renderError(err, c)
			return
		}

		provide.Render(submission, 201, c)
	}
}

// reconcile a submission whose effect is unknown
func reconcileScheduleHandler(scheduler *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := scheduleIDParam(c)
		if !ok {
			return
		}

		submission, err := scheduler.Reconcile(c.Request.Context(), id)
		if err != nil {
			renderError(err, c)
			return
		}

		provide.Render(submission, 200, c)
	}
}
