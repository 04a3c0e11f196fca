package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/coupon"
)

func (cli *commandLine) addCoupon(nc coupon.NewCoupon) error {
	if _, err := nc.Validate(cli.validate); err != nil {
		return err
	}
	cpn, err := cli.coupons.Create(context.Background(), nc)
	if err != nil {
		return errors.Wrap(err, "creating coupon")
	}
	fmt.Printf("coupon %s created\n", cpn.Code)
	return nil
}
