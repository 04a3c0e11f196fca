package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/course"
)

func (cli *commandLine) addCourse(nc course.NewCourse) error {
	if err := nc.Validate(cli.validate); err != nil {
		return err
	}
	crs, err := cli.courses.Create(context.Background(), nc)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	fmt.Printf("course %q created: %s\n", crs.Title, crs.ID)
	return nil
}
