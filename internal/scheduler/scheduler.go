// Package scheduler runs the two periodic background triggers that aren't
// driven by filesystem events: the collection verification walk and the
// positions JSON backup.
package scheduler

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// OnVerifyDue is called once per attached collection on every verification
// tick.
type OnVerifyDue func(collectionID int)

// OnBackupDue is called when the positions backup's cron schedule fires, or
// when SIGUSR2 requests one immediately.
type OnBackupDue func()

// Scheduler drives the verification-walk ticker and the cron-scheduled
// positions backup.
type Scheduler struct {
	collectionIDs []int
	onVerify      OnVerifyDue
	onBackup      OnBackupDue
	verifyEvery   time.Duration
	cron          *cron.Cron
	stop          chan struct{}
}

// New builds a Scheduler. backupCronExpr may be empty, meaning no scheduled
// backup (SIGUSR2 can still trigger one manually through TriggerBackup).
func New(collectionIDs []int, verifyEvery time.Duration, backupCronExpr string, onVerify OnVerifyDue, onBackup OnBackupDue) (*Scheduler, error) {
	if verifyEvery <= 0 {
		verifyEvery = 10 * time.Minute
	}
	s := &Scheduler{
		collectionIDs: collectionIDs,
		onVerify:      onVerify,
		onBackup:      onBackup,
		verifyEvery:   verifyEvery,
		cron:          cron.New(),
		stop:          make(chan struct{}),
	}
	if backupCronExpr != "" {
		if _, err := s.cron.AddFunc(backupCronExpr, func() { s.onBackup() }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start begins the verification ticker and the cron scheduler.
func (s *Scheduler) Start() {
	go s.run()
	s.cron.Start()
	log.Printf("[scheduler] verification walk every %s", s.verifyEvery)
}

// Stop halts both the ticker loop and the cron scheduler.
func (s *Scheduler) Stop() {
	close(s.stop)
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// TriggerBackup runs the backup callback immediately, used by the SIGUSR2
// handler.
func (s *Scheduler) TriggerBackup() {
	s.onBackup()
}

// TriggerFullVerify runs a verification pass across every collection
// immediately. The signal handlers do not call it: SIGUSR1 enqueues a full
// scan of each collection directly.
func (s *Scheduler) TriggerFullVerify() {
	s.checkAll()
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.verifyEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.checkAll()
		case <-s.stop:
			log.Println("[scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) checkAll() {
	for _, id := range s.collectionIDs {
		s.onVerify(id)
	}
}
