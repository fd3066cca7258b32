package controller

import (
	"context"
	"errors"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blectl/internal/groutine"
)

// advertiseRetryDelay is the pause before advertising is restarted after a stack error
const advertiseRetryDelay = time.Second

// ExecuteInLoop queues fn to run on the controller loop goroutine. It never blocks;
// when the queue is full the work is refused with ErrLoopQueueFull.
func (c *Controller) ExecuteInLoop(fn func()) error {
	if fn == nil {
		return nil
	}
	if err := c.deferred.Enqueue(fn); err != nil {
		c.logger.WithError(err).Warn("Deferred work dropped")
		return ErrLoopQueueFull
	}
	select {
	case c.wakeLoop <- struct{}{}:
	default:
	}
	return nil
}

func (c *Controller) loop(ctx context.Context) {
	for {
		for !c.deferred.IsEmpty() {
			fn, err := c.deferred.Dequeue()
			if err != nil {
				break
			}
			c.runDeferred(fn)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.wakeLoop:
		}
	}
}

func (c *Controller) runDeferred(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", r).Error("Deferred work panicked")
		}
	}()
	fn()
}

// advertise keeps the device's services and advertisement in line with the exposure flags,
// restarting the advertisement after every change
func (c *Controller) advertise(ctx context.Context) {
	for {
		svcs := c.Services()
		if err := c.device.SetServices(svcs); err != nil {
			c.logger.WithError(err).Error("Failed to register services")
		}

		uuids := c.advertisedUUIDs()
		c.logger.WithFields(logrus.Fields{
			"name":     c.cfg.Name,
			"services": len(svcs),
		}).Info("Advertising")

		advCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		groutine.Go(advCtx, "advertise-round", func(ctx context.Context) {
			done <- c.device.AdvertiseNameAndServices(ctx, c.cfg.Name, uuids...)
		})

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return
		case <-c.servicesChanged:
			cancel()
			<-done
			c.logger.Debug("Exposed services changed, restarting advertising")
		case err := <-done:
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.WithError(err).Warn("Advertising stopped")
			}
			select {
			case <-ctx.Done():
				return
			case <-c.servicesChanged:
			case <-time.After(advertiseRetryDelay):
			}
		}
	}
}

func (c *Controller) advertisedUUIDs() []ble.UUID {
	var uuids []ble.UUID
	if c.maintExp.On() {
		uuids = append(uuids, c.maintenance.UUID())
	}
	if c.compExp.On() {
		uuids = append(uuids, c.entities.Table().UUIDs()...)
	}
	return uuids
}
