package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task é uma tarefa periódica do scheduler.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context)

	running atomic.Bool
}

// Scheduler roda as tarefas de manutenção (C9): probe do counter store,
// decaimento de abuso, expiração de contadores, reconciliação de breakers.
//
// Execuções sobrepostas da mesma tarefa são puladas (idle -> running -> idle);
// no shutdown as tarefas em voo têm 2s de graça.
type Scheduler struct {
	tasks  []*Task
	logger *zap.SugaredLogger
	grace  time.Duration

	wg sync.WaitGroup
}

// NewScheduler cria o scheduler com graça de shutdown de 2s.
func NewScheduler(logger *zap.SugaredLogger, tasks ...*Task) *Scheduler {
	return &Scheduler{tasks: tasks, logger: logger, grace: 2 * time.Second}
}

// Start agenda todas as tarefas; pare cancelando o contexto.
func (s *Scheduler) Start(ctx context.Context) {
	for _, task := range s.tasks {
		if task.Every <= 0 || task.Run == nil {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, task)
	}
}

func (s *Scheduler) loop(ctx context.Context, task *Task) {
	defer s.wg.Done()
	t := time.NewTicker(task.Every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !task.running.CompareAndSwap(false, true) {
				// execução anterior ainda em voo: pula este tick.
				if s.logger != nil {
					s.logger.Debugw("tarefa sobreposta pulada", "task", task.Name)
				}
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runOnce(ctx, task)
			}()
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, task *Task) {
	defer task.running.Store(false)
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Errorw("panic em tarefa do scheduler", "task", task.Name, "cause", r)
		}
	}()
	task.Run(ctx)
}

// Wait bloqueia até os loops encerrarem, respeitando a graça de 2s para
// execuções em voo.
func (s *Scheduler) Wait() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.grace):
		if s.logger != nil {
			s.logger.Warnw("scheduler encerrado com tarefas em voo")
		}
	}
}
