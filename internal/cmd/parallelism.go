package cmd

import (
	"github.com/spf13/cobra"
)

var parallelismCmd = &cobra.Command{
	Use:   "parallelism",
	Short: "Learn how to tune s3glob's parallelism for better performance",
	Long: `Learn how to tune s3glob's parallelism for better performance.

You only need to read this doc if you feel like s3glob is running
slower than you hope, or if you're getting a slowdown error.

If you want to limit parallel API calls, you can use the
--max-parallelism flag.

You probably want the maximum parallelism possible. Because of the
APIs provided by AWS, s3glob can only meaningfully issue parallel
requests for prefixes. Additionally, prefixes can only be generated
before a delimiter.

So if you have a keyspace (using {..-..} to represent a range) that
looks like:

   s3://bucket/{a-z}/{0-999}/OBJECT_ID.txt

and you want to find all the text files where OBJECT_ID is 5, you have
several options for patterns:

   1: s3glob ls bucket/**/5.txt    -- parallelism 1
   2: s3glob ls bucket/*/**/5.txt  -- parallelism 26
   3: s3glob ls bucket/*/*/5.txt   -- parallelism 26,000

Which one is best depends on exactly what you're searching for.

Character classes and alternations expand the same way: [abc] and
{x,y} multiply the prefix set before listing starts. Note that brace
alternations do not nest: {a,{b,c}} is rejected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Println("This is just for documentation, run instead: s3glob help parallelism")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(parallelismCmd)
}
