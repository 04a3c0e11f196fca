package main

import (
	"context"
	"fmt"
)

// resetActivation clears the failed activation attempts of an enrollment.
func (cli *commandLine) resetActivation(id string) error {
	enr, err := cli.enrollments.ResetActivation(context.Background(), cliActor, id)
	if err != nil {
		return err
	}
	fmt.Printf("enrollment %s reset, status %s\n", enr.ID, enr.Status)
	return nil
}

func (cli *commandLine) purgeNotifications() error {
	n, err := cli.notifications.PurgeExpired(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("%d expired notifications deleted\n", n)
	return nil
}

func (cli *commandLine) reconcilePayments() error {
	n, err := cli.enrollments.ReconcilePayments(context.Background(), cliActor)
	if err != nil {
		return err
	}
	fmt.Printf("%d stale payments marked failed\n", n)
	return nil
}

func (cli *commandLine) purgeCarts() error {
	n, err := cli.carts.PurgeExpired(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("%d carts deleted\n", n)
	return nil
}
