// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/supplychain/services/bandit/experiment"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// HandleStreamRun handles GET /v1/stream.
//
// Description:
//
//	Upgrades to a WebSocket and reads one text message holding the same
//	JSON config POST /v1/runs accepts. Replies with "started", one
//	"result" per finished policy run in completion order, then "done"
//	once the run is saved. Any failure is sent as "error" and the stream
//	is closed. Closing the socket early cancels the run.
func (h *Handlers) HandleStreamRun(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleStreamRun")
	if !h.admit(c) {
		logger.Warn("run submission rate limited")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	send := func(msg StreamMessage) error {
		_ = ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		err := ws.WriteJSON(msg)
		if err != nil {
			logger.Warn("failed to write websocket message", "type", msg.Type, "error", err)
		}
		return err
	}
	fail := func(resp ErrorResponse) {
		_ = send(StreamMessage{Type: StreamError, Error: &resp})
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, resp.Code),
			time.Now().Add(time.Second))
	}

	_, data, err := ws.ReadMessage()
	if err != nil {
		logger.Warn("no config received", "error", err)
		return
	}
	cfg, err := decodeRunConfig(data)
	if err != nil {
		fail(ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST", Details: err.Error()})
		return
	}
	if resp, ok := h.checkSize(cfg); !ok {
		fail(resp)
		return
	}
	runner, err := experiment.NewRunner(cfg, logger)
	if err != nil {
		fail(ErrorResponse{Error: "Invalid config", Code: "INVALID_CONFIG", Details: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// The client sends nothing more; a read error means it went away.
	go func() {
		for {
			if _, _, err := ws.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	tasks := len(cfg.Modes) * len(cfg.Sweep.Values()) * len(cfg.Policies)
	if err := send(StreamMessage{Type: StreamStarted, Tasks: tasks}); err != nil {
		return
	}
	runner.OnResult(func(res experiment.Result) {
		if err := send(StreamMessage{Type: StreamResult, Result: &res}); err != nil {
			cancel()
		}
	})

	run, err := runner.Run(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("run failed", "error", err)
			fail(ErrorResponse{Error: "Run failed", Code: "RUN_FAILED", Details: err.Error()})
		}
		return
	}
	if err := h.store.Save(ctx, run); err != nil {
		logger.Error("save failed", "run_id", run.ID, "error", err)
		fail(ErrorResponse{Error: "Save failed", Code: "SAVE_FAILED", Details: err.Error()})
		return
	}

	logger.Info("streamed run created", "run_id", run.ID, "results", len(run.Results))
	if err := send(StreamMessage{Type: StreamDone, RunID: run.ID}); err != nil {
		return
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
