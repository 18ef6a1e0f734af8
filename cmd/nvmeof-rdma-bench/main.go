// File: cmd/nvmeof-rdma-bench/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// nvmeof-rdma-bench drives the C9 target request state machine against
// the C14 in-memory backend without any real RDMA hardware: every
// iteration posts an in-capsule WRITE (S3) through tgtreq.Dispatcher
// exactly as a reaped RECV completion would, then simulates the SEND
// completion to free the request, and reports achieved ops/sec.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/momentics/nvmeof-rdma/backend"
	"github.com/momentics/nvmeof-rdma/dif"
	"github.com/momentics/nvmeof-rdma/nvme"
	"github.com/momentics/nvmeof-rdma/pollgroup"
	"github.com/momentics/nvmeof-rdma/qpair"
	"github.com/momentics/nvmeof-rdma/tgtreq"
	"github.com/momentics/nvmeof-rdma/wrqueue"
)

// inlinePoster resolves every posted chain immediately, standing in
// for the real ibv_post_send + completion-queue round trip this bench
// has no hardware to perform.
type inlinePoster struct {
	onChain func(*wrqueue.WorkRequest)
}

func (p *inlinePoster) PostChain(head *wrqueue.WorkRequest) (int, *wrqueue.WorkRequest, error) {
	n := 0
	for wr := head; wr != nil; wr = wr.Next {
		n++
	}
	if p.onChain != nil {
		p.onChain(head)
	}
	return n, nil, nil
}

func main() {
	iterations := flag.Int("iterations", 100_000, "number of WRITE request cycles to drive")
	payloadSize := flag.Int("payload-size", 4096, "in-capsule write payload size in bytes")
	blockSize := flag.Uint("block-size", 512, "backend block size in bytes")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	nlb := uint16((*payloadSize+int(*blockSize)-1)/int(*blockSize)) - 1
	numBlocks := uint64(*iterations) * (uint64(nlb) + 1)

	be := backend.New(backend.Config{BlockSize: uint32(*blockSize), NumBlocks: numBlocks})
	machine := tgtreq.NewMachine(be)
	pending := wrqueue.NewPendingQueues()

	pool, err := qpair.NewResourcePool(qpair.Config{
		Depth:          256,
		CapsuleSize:    64 + *payloadSize,
		CompletionSize: nvme.CompletionSize,
		Alloc: func(size int) ([]byte, uint32, uint32, error) {
			return make([]byte, size), 1, 1, nil
		},
	})
	if err != nil {
		log.Error("failed to build resource pool", "err", err)
		os.Exit(1)
	}

	var lastChain *wrqueue.WorkRequest
	poster := &inlinePoster{onChain: func(wr *wrqueue.WorkRequest) { lastChain = wr }}
	qp := qpair.NewQueuePair(qpair.AdminQID, qpair.Sizing{
		NumEntries: 256, MaxSendDepth: 256, MaxReadDepth: 256, MaxSendSGE: 16, MaxRecvSGE: 16,
	}, poster, false)

	d := tgtreq.NewDispatcher(machine, pending, dif.Config{}, 4096, 16, nil, log)
	d.Register(qp, pool)

	pattern := make([]byte, *payloadSize)
	for i := range pattern {
		pattern[i] = byte(i)
	}

	start := time.Now()
	completed := 0
	for i := 0; i < *iterations; i++ {
		capsule, ok := pool.AcquireCapsule()
		if !ok {
			break
		}

		var cmd nvme.Command
		cmd.OpcodeField = nvme.OpcodeWrite
		cmd.NSID = 1
		cmd.SGL = nvme.SGLDescriptor{
			Address:    nvme.CommandSize,
			Length:     uint32(*payloadSize),
			SubtypeVal: nvme.SGLSubtypeOffset,
			TypeVal:    nvme.SGLTypeDataBlock,
		}
		nvme.EncodeRW(&cmd, nvme.RWCommand{SLBA: uint64(i) * (uint64(nlb) + 1), NLB: nlb})
		cmd.Marshal(capsule.Buf.Data[:nvme.CommandSize])
		copy(capsule.Buf.Data[nvme.CommandSize:], pattern)

		lastChain = nil
		d.OnRecv(qp.QID, pollgroup.WC{Op: wrqueue.OpRecv, QID: qp.QID, UserData: capsule})
		if lastChain == nil {
			log.Warn("iteration produced no completion SEND, backpressure or resource exhaustion", "i", i)
			continue
		}
		r, _ := lastChain.UserData.(*tgtreq.Request)
		d.OnSend(qp.QID, pollgroup.WC{Op: wrqueue.OpSend, QID: qp.QID, UserData: r})
		completed++
	}
	elapsed := time.Since(start)

	opsPerSec := float64(completed) / elapsed.Seconds()
	fmt.Printf("completed=%d elapsed=%s ops/sec=%.0f avg_latency=%s\n",
		completed, elapsed, opsPerSec, elapsed/time.Duration(max(completed, 1)))
}
